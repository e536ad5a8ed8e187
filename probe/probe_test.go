package probe

import (
	"testing"
	"time"

	"github.com/karatag/satsweep/target"
)

func TestStatusText(t *testing.T) {
	statuses := []Status{StatusSuccess, StatusTimeout, StatusError, StatusUnreachable, StatusSkipped}
	for _, s := range statuses {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back Status
		if err := back.UnmarshalText(text); err != nil {
			t.Fatal(err)
		}
		if back != s {
			t.Errorf("status %v did not survive text round trip", s)
		}
	}

	var s Status
	if err := s.UnmarshalText([]byte("exploded")); err == nil {
		t.Error("expected error for unknown status text")
	}
}

func TestTypeText(t *testing.T) {
	for _, typ := range []Type{TypeICMP, TypeDNS} {
		text, _ := typ.MarshalText()
		var back Type
		if err := back.UnmarshalText(text); err != nil {
			t.Fatal(err)
		}
		if back != typ {
			t.Errorf("type %v did not survive text round trip", typ)
		}
	}
}

func TestOutcomeInvariant(t *testing.T) {
	tgt := target.Target{Addr: "192.0.2.1", Group: target.GroupGround}

	ok := success(tgt, TypeICMP, 12340*time.Microsecond)
	if !ok.RTTValid() {
		t.Error("success outcome must carry a valid RTT")
	}
	if ok.RTT < 0 {
		t.Error("RTT must never be negative")
	}
	if ok.RTT < 12.3 || ok.RTT > 12.4 {
		t.Errorf("RTT conversion to milliseconds off: %v", ok.RTT)
	}

	// Clock skew between send and receive stamps must not leak a negative RTT
	neg := success(tgt, TypeICMP, -time.Millisecond)
	if neg.RTT != 0 {
		t.Errorf("negative RTT not clamped: %v", neg.RTT)
	}

	for _, s := range []Status{StatusTimeout, StatusError, StatusUnreachable} {
		o := failure(tgt, TypeDNS, s)
		if o.RTTValid() {
			t.Errorf("%v outcome must not carry a valid RTT", s)
		}
		if o.Target != tgt.ID() || o.Group != tgt.Group {
			t.Error("failure outcome lost target identity")
		}
	}

	sk := Skipped(tgt, TypeICMP, 7)
	if sk.Status != StatusSkipped || sk.Round != 7 {
		t.Error("skip marker malformed")
	}
}

func TestTimeBytesRoundTrip(t *testing.T) {
	now := time.Now()
	back := bytesToTime(timeToBytes(now))
	if now.UnixNano() != back.UnixNano() {
		t.Errorf("timestamp payload round trip: %v != %v", now, back)
	}
}

func TestParseTraceOutput(t *testing.T) {
	out := `traceroute to 1.1.1.1 (1.1.1.1), 20 hops max, 60 byte packets
 1  192.168.0.1  0.345 ms  0.220 ms  0.190 ms
 2  * * *
 3  100.72.16.1  8.120 ms  7.990 ms  8.430 ms
 4  1.1.1.1  9.105 ms  9.002 ms  8.950 ms
`
	hops := parseTraceOutput(out)
	if len(hops) != 4 {
		t.Fatalf("expected 4 hops, got %d", len(hops))
	}
	if hops[0].IP != "192.168.0.1" || len(hops[0].RTTs) != 3 {
		t.Errorf("hop 1 parsed wrong: %+v", hops[0])
	}
	if hops[1].IP != "" || len(hops[1].RTTs) != 0 {
		t.Errorf("silent hop parsed wrong: %+v", hops[1])
	}
	if hops[3].IP != "1.1.1.1" {
		t.Errorf("destination hop parsed wrong: %+v", hops[3])
	}
	if hops[3].AvgMs < 9.0 || hops[3].AvgMs > 9.1 {
		t.Errorf("hop average off: %v", hops[3].AvgMs)
	}
}
