package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/karatag/satsweep/probe"
	"github.com/karatag/satsweep/target"
)

// Scheduler drives probers against a target set on a fixed wall-clock
// interval. One worker goroutine per (target, prober) pair keeps a slow or
// unreachable target from delaying any other, while a single global
// semaphore bounds how many probes are in flight at once.
type Scheduler struct {
	Interval time.Duration

	// Duration bounds the run; zero means run until the context is
	// canceled.
	Duration time.Duration

	Concurrency int64
}

// Report is the run-level accounting. Overlapping rounds and skipped
// targets are recorded as warnings, never as aborts.
type Report struct {
	rounds      atomic.Int64
	overlapping atomic.Int64
	skipped     atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
}

func (r *Report) Rounds() int      { return int(r.rounds.Load()) }
func (r *Report) Overlapping() int { return int(r.overlapping.Load()) }
func (r *Report) Skipped() int     { return int(r.skipped.Load()) }
func (r *Report) Successes() int   { return int(r.successes.Load()) }
func (r *Report) Failures() int    { return int(r.failures.Load()) }

// Systemic reports whether the run never produced a single successful
// probe, the end-of-run signal for an unresolvable list or dead network.
func (r *Report) Systemic() bool {
	return r.successes.Load() == 0 && r.failures.Load() > 0
}

type task struct {
	tgt      target.Target
	prober   probe.Prober
	tick     chan int
	inflight atomic.Bool
}

// Run starts probing and returns the outcome stream. The stream is closed
// once the deadline or cancellation stops new rounds and every in-flight
// probe has finished within its own timeout. The report may be read live
// and is final after the stream closes.
func (s *Scheduler) Run(ctx context.Context, list *target.List, probers []probe.Prober) (<-chan probe.Outcome, *Report) {
	report := &Report{}

	var cancel context.CancelFunc = func() {}
	if s.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.Duration)
	}

	var tasks []*task
	for _, tgt := range list.Targets {
		for _, p := range probers {
			tasks = append(tasks, &task{tgt: tgt, prober: p, tick: make(chan int, 1)})
		}
	}

	outcomes := make(chan probe.Outcome, 2*len(tasks))
	sem := semaphore.NewWeighted(s.Concurrency)

	// In-flight probes get a grace period bounded by their own timeout,
	// independent of run cancellation.
	probeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			for round := range t.tick {
				t.inflight.Store(true)
				if err := sem.Acquire(probeCtx, 1); err != nil {
					return nil
				}
				o := t.prober.Probe(probeCtx, t.tgt)
				sem.Release(1)

				o.Round = round
				if o.Status == probe.StatusSuccess {
					report.successes.Add(1)
				} else {
					report.failures.Add(1)
				}
				outcomes <- o
				t.inflight.Store(false)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, t := range tasks {
				close(t.tick)
			}
		}()
		s.dispatch(ctx, tasks, outcomes, report)
		return nil
	})

	go func() {
		g.Wait()
		cancel()
		close(outcomes)
	}()

	return outcomes, report
}

// Supplementary runs the one-shot reverse lookups and path traces captured
// at the start of a pair run. Results are stored apart from the RTT stream;
// failures land in the result records and are never fatal.
func (s *Scheduler) Supplementary(ctx context.Context, list *target.List, rdns *probe.RDNS, trace *probe.Trace) ([]probe.RDNSResult, []probe.TraceResult) {
	rdnsResults := make([]probe.RDNSResult, len(list.Targets))
	traceResults := make([]probe.TraceResult, len(list.Targets))

	var g errgroup.Group
	for i, tgt := range list.Targets {
		i, tgt := i, tgt
		g.Go(func() error {
			rdnsResults[i] = rdns.Lookup(ctx, tgt)
			traceResults[i] = trace.Run(ctx, tgt)
			return nil
		})
	}
	g.Wait()
	return rdnsResults, traceResults
}

// dispatch emits round ticks by wall-clock time. A tick finding a task's
// previous probe still in flight marks that target skipped for the round
// instead of queueing a catch-up probe; the next round stays on schedule.
func (s *Scheduler) dispatch(ctx context.Context, tasks []*task, outcomes chan<- probe.Outcome, report *Report) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	round := 0
	for {
		round++
		report.rounds.Add(1)

		overlapped, skipped := 0, 0
		for _, t := range tasks {
			if t.inflight.Load() {
				overlapped++
			}
			select {
			case t.tick <- round:
			default:
				// Already a full round behind: mark the target skipped
				// rather than building a catch-up backlog.
				skipped++
				report.skipped.Add(1)
				outcomes <- probe.Skipped(t.tgt, t.prober.Type(), round)
			}
		}
		if overlapped > 0 {
			report.overlapping.Add(1)
			logrus.Warnf("round %d overlapped its interval: %d probes still in flight, %d skipped", round, overlapped, skipped)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
