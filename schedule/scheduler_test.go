package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/karatag/satsweep/probe"
	"github.com/karatag/satsweep/schedule"
	"github.com/karatag/satsweep/target"
)

type fakeProber struct {
	delays map[string]time.Duration
	status probe.Status
}

func (f *fakeProber) Type() probe.Type { return probe.TypeICMP }

func (f *fakeProber) Probe(ctx context.Context, tgt target.Target) probe.Outcome {
	if d := f.delays[tgt.Addr]; d > 0 {
		time.Sleep(d)
	}
	o := probe.Outcome{
		Timestamp: time.Now().UTC(),
		Target:    tgt.ID(),
		Group:     tgt.Group,
		Type:      probe.TypeICMP,
		Status:    f.status,
	}
	if o.Status == probe.StatusSuccess {
		o.RTT = 10
	}
	return o
}

func collect(ch <-chan probe.Outcome) map[string][]probe.Outcome {
	byTarget := map[string][]probe.Outcome{}
	for o := range ch {
		byTarget[o.Target] = append(byTarget[o.Target], o)
	}
	return byTarget
}

func TestRunProbesEveryTargetEveryRound(t *testing.T) {
	list := &target.List{Targets: []target.Target{
		{Addr: "a", Group: target.GroupGround},
		{Addr: "b", Group: target.GroupSatellite},
	}}
	s := &schedule.Scheduler{Interval: 10 * time.Millisecond, Duration: 105 * time.Millisecond, Concurrency: 8}

	ch, report := s.Run(context.Background(), list, []probe.Prober{&fakeProber{status: probe.StatusSuccess}})
	byTarget := collect(ch)

	if report.Rounds() < 3 {
		t.Fatalf("expected at least 3 rounds, got %d", report.Rounds())
	}
	for _, addr := range []string{"a", "b"} {
		got := len(byTarget[addr])
		if got != report.Rounds() {
			t.Errorf("target %s: %d outcomes for %d rounds", addr, got, report.Rounds())
		}
	}
	if report.Skipped() != 0 || report.Overlapping() != 0 {
		t.Errorf("unexpected skips/overlaps on a fast run: %d/%d", report.Skipped(), report.Overlapping())
	}
	if report.Systemic() {
		t.Error("successful run flagged as systemic failure")
	}
}

func TestRunPreservesPerTargetRoundOrder(t *testing.T) {
	list := &target.List{Targets: []target.Target{{Addr: "a"}, {Addr: "b"}, {Addr: "c"}}}
	s := &schedule.Scheduler{Interval: 5 * time.Millisecond, Duration: 80 * time.Millisecond, Concurrency: 2}

	ch, _ := s.Run(context.Background(), list, []probe.Prober{&fakeProber{status: probe.StatusSuccess}})
	for tgt, series := range collect(ch) {
		for i := 1; i < len(series); i++ {
			if series[i].Round <= series[i-1].Round {
				t.Fatalf("target %s: round %d recorded after round %d", tgt, series[i-1].Round, series[i].Round)
			}
		}
	}
}

func TestSlowTargetDoesNotStallOthers(t *testing.T) {
	list := &target.List{Targets: []target.Target{{Addr: "fast"}, {Addr: "slow"}}}
	s := &schedule.Scheduler{Interval: 10 * time.Millisecond, Duration: 120 * time.Millisecond, Concurrency: 8}

	prober := &fakeProber{
		status: probe.StatusSuccess,
		delays: map[string]time.Duration{"slow": 45 * time.Millisecond},
	}
	ch, report := s.Run(context.Background(), list, []probe.Prober{prober})
	byTarget := collect(ch)

	if len(byTarget["fast"]) < 2*attempts(byTarget["slow"]) {
		t.Errorf("slow target stalled the fast one: fast=%d slow=%d",
			len(byTarget["fast"]), attempts(byTarget["slow"]))
	}
	if report.Overlapping() < 1 {
		t.Errorf("expected overlapping rounds to be recorded, got %d", report.Overlapping())
	}

	// Rounds falling more than one interval behind are explicitly skipped
	skips := 0
	for _, o := range byTarget["slow"] {
		if o.Status == probe.StatusSkipped {
			skips++
		}
	}
	if skips == 0 {
		t.Error("expected explicit skip markers for the slow target")
	}
	if skips != report.Skipped() {
		t.Errorf("skip markers (%d) disagree with report (%d)", skips, report.Skipped())
	}
}

func attempts(series []probe.Outcome) int {
	n := 0
	for _, o := range series {
		if o.Status != probe.StatusSkipped {
			n++
		}
	}
	return n
}

func TestCancellationStopsNewRounds(t *testing.T) {
	list := &target.List{Targets: []target.Target{{Addr: "a"}}}
	s := &schedule.Scheduler{Interval: 5 * time.Millisecond, Concurrency: 1}

	ctx, cancel := context.WithCancel(context.Background())
	ch, report := s.Run(ctx, list, []probe.Prober{&fakeProber{status: probe.StatusSuccess}})

	time.Sleep(25 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		collect(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("outcome stream did not close after cancellation")
	}
	if report.Rounds() == 0 {
		t.Error("expected at least one round before cancellation")
	}
}

func TestSystemicFailureSurfacedAtEndOfRun(t *testing.T) {
	list := &target.List{Targets: []target.Target{{Addr: "a"}, {Addr: "b"}}}
	s := &schedule.Scheduler{Interval: 10 * time.Millisecond, Duration: 45 * time.Millisecond, Concurrency: 4}

	ch, report := s.Run(context.Background(), list, []probe.Prober{&fakeProber{status: probe.StatusError}})
	byTarget := collect(ch)

	// The run completes and yields its all-error series instead of aborting
	if len(byTarget) != 2 {
		t.Fatalf("expected series for both targets, got %d", len(byTarget))
	}
	if !report.Systemic() {
		t.Error("all-failure run not flagged as systemic")
	}
}
