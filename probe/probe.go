package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/karatag/satsweep/target"
)

// Type identifies the measurement method of an outcome.
type Type uint8

const (
	TypeICMP Type = iota
	TypeDNS
)

func (t Type) String() string {
	switch t {
	case TypeICMP:
		return "icmp"
	case TypeDNS:
		return "dns"
	}
	return "unknown"
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(text []byte) error {
	switch string(text) {
	case "icmp":
		*t = TypeICMP
	case "dns":
		*t = TypeDNS
	default:
		return fmt.Errorf("unknown probe type %q", text)
	}
	return nil
}

// Status classifies a single probe attempt. Failures are data, not errors:
// nothing past the prober boundary ever sees a fault.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusError
	StatusUnreachable
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	case StatusUnreachable:
		return "unreachable"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*s = StatusSuccess
	case "timeout":
		*s = StatusTimeout
	case "error":
		*s = StatusError
	case "unreachable":
		*s = StatusUnreachable
	case "skipped":
		*s = StatusSkipped
	default:
		return fmt.Errorf("unknown probe status %q", text)
	}
	return nil
}

// Outcome is one timestamped measurement against one target. RTT is in
// milliseconds and meaningful only when Status is StatusSuccess, in which
// case it is always >= 0.
type Outcome struct {
	Timestamp time.Time
	Target    string
	Group     target.Group
	Type      Type
	RTT       float64
	Status    Status

	// Round is the scheduler round that produced the outcome. Not persisted.
	Round int
}

// RTTValid reports whether the RTT field carries a measurement.
func (o Outcome) RTTValid() bool {
	return o.Status == StatusSuccess
}

// Prober performs one RTT measurement against one target. Implementations
// never return an error: every failure mode is mapped to an Outcome status.
type Prober interface {
	Type() Type
	Probe(ctx context.Context, tgt target.Target) Outcome
}

func success(tgt target.Target, typ Type, rtt time.Duration) Outcome {
	ms := float64(rtt) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return Outcome{
		Timestamp: time.Now().UTC(),
		Target:    tgt.ID(),
		Group:     tgt.Group,
		Type:      typ,
		RTT:       ms,
		Status:    StatusSuccess,
	}
}

func failure(tgt target.Target, typ Type, status Status) Outcome {
	return Outcome{
		Timestamp: time.Now().UTC(),
		Target:    tgt.ID(),
		Group:     tgt.Group,
		Type:      typ,
		Status:    status,
	}
}

// Skipped marks a target that received no probe attempt in a round because
// its previous probe was still in flight.
func Skipped(tgt target.Target, typ Type, round int) Outcome {
	o := failure(tgt, typ, StatusSkipped)
	o.Round = round
	return o
}
