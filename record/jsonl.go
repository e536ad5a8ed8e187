package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/karatag/satsweep/probe"
	"github.com/karatag/satsweep/target"
)

// wireRecord is the persisted sample format shared by the JSONL sink, the
// NATS sink, and the readers. rtt_ms is present iff status is success.
type wireRecord struct {
	Timestamp time.Time    `json:"timestamp"`
	Target    string       `json:"target_id"`
	ProbeType probe.Type   `json:"probe_type"`
	RTTms     *float64     `json:"rtt_ms"`
	Status    probe.Status `json:"status"`
}

func toWire(o probe.Outcome) wireRecord {
	w := wireRecord{
		Timestamp: o.Timestamp,
		Target:    o.Target,
		ProbeType: o.Type,
		Status:    o.Status,
	}
	if o.RTTValid() {
		rtt := o.RTT
		w.RTTms = &rtt
	}
	return w
}

func (w wireRecord) outcome(group target.Group) probe.Outcome {
	o := probe.Outcome{
		Timestamp: w.Timestamp,
		Target:    w.Target,
		Group:     group,
		Type:      w.ProbeType,
		Status:    w.Status,
	}
	if w.RTTms != nil {
		o.RTT = *w.RTTms
	}
	return o
}

// JSONL appends one JSON object per outcome, newline-delimited. This is the
// pair-mode raw capture format.
type JSONL struct {
	f *os.File
	w *bufio.Writer
}

func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return &JSONL{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *JSONL) Write(o probe.Outcome) error {
	b, err := json.Marshal(toWire(o))
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *JSONL) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// ReadJSONL loads a raw capture back into outcomes, preserving record order.
func ReadJSONL(path string) ([]probe.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []probe.Outcome
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var w wireRecord
		if err := json.Unmarshal(scanner.Bytes(), &w); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		out = append(out, w.outcome(target.GroupNone))
	}
	return out, scanner.Err()
}
