package record

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/karatag/satsweep/probe"
)

// Sink is a destination for the raw outcome stream. Sinks are only ever
// driven by the recorder's single drain goroutine.
type Sink interface {
	Write(o probe.Outcome) error
	Close() error
}

// Recorder captures the probe outcome stream. It owns the only shared
// mutable structure in the pipeline: a bounded queue drained by a single
// writer goroutine. Record never blocks the scheduler: when the buffer is
// full the oldest buffered entry is dropped and the dropped count
// incremented, an observable degradation rather than a silent loss.
type Recorder struct {
	queue   chan probe.Outcome
	sinks   []Sink
	dropped atomic.Uint64
	skipped atomic.Uint64

	mu     sync.RWMutex
	series map[string][]probe.Outcome

	wg sync.WaitGroup
}

func New(bufferSize int, sinks ...Sink) *Recorder {
	r := &Recorder{
		queue:  make(chan probe.Outcome, bufferSize),
		sinks:  sinks,
		series: make(map[string][]probe.Outcome),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues an outcome for the drain goroutine. Skip markers are
// accounted but never persisted: the wire formats carry probe attempts only.
func (r *Recorder) Record(o probe.Outcome) {
	if o.Status == probe.StatusSkipped {
		r.skipped.Add(1)
		return
	}
	for {
		select {
		case r.queue <- o:
			return
		default:
		}
		select {
		case <-r.queue:
			r.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns the number of buffered outcomes discarded under backpressure.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Skipped returns the number of skip markers received from the scheduler.
func (r *Recorder) Skipped() uint64 { return r.skipped.Load() }

// Series returns a copy of the captured samples for one target, in record
// order. The copy is safe to hand to the aggregator while probing continues.
func (r *Recorder) Series(targetID string) []probe.Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.series[targetID]
	out := make([]probe.Outcome, len(s))
	copy(out, s)
	return out
}

// Targets returns the IDs of all targets with captured samples.
func (r *Recorder) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.series))
	for id := range r.series {
		out = append(out, id)
	}
	return out
}

// Close flushes the queue, then closes every sink. No Record calls may
// happen after Close.
func (r *Recorder) Close() error {
	close(r.queue)
	r.wg.Wait()

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n := r.Dropped(); n > 0 {
		logrus.Warnf("recorder dropped %d outcomes under backpressure", n)
	}
	return firstErr
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for o := range r.queue {
		r.mu.Lock()
		r.series[o.Target] = append(r.series[o.Target], o)
		r.mu.Unlock()

		for _, s := range r.sinks {
			if err := s.Write(o); err != nil {
				logrus.Errorf("recorder sink write failed: %v", err)
			}
		}
	}
}
