package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jthatch/proxy-verify/internal/aggregator"
	"github.com/jthatch/proxy-verify/internal/candidate"
	"github.com/jthatch/proxy-verify/internal/events"
	"github.com/jthatch/proxy-verify/internal/probe"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// State is the dispatcher lifecycle for one run.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Prober resolves one candidate into exactly one outcome.
type Prober interface {
	Probe(ctx context.Context, cand candidate.Candidate) probe.Outcome
}

// Dispatcher issues probes from a FIFO candidate queue while holding the
// number in flight at min(C, remaining). The run loop is the single writer
// of queue position and in-flight accounting; probes report back over a
// channel and never touch shared state.
type Dispatcher struct {
	prober  Prober
	agg     *aggregator.Aggregator
	bus     *events.Bus
	limiter *rate.Limiter // optional launch pacing

	state    atomic.Int32
	shutdown chan struct{}
	stopOnce sync.Once
}

func New(prober Prober, agg *aggregator.Aggregator, bus *events.Bus, launchRatePerSecond int) *Dispatcher {
	d := &Dispatcher{
		prober:   prober,
		agg:      agg,
		bus:      bus,
		shutdown: make(chan struct{}),
	}
	if launchRatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(launchRatePerSecond), launchRatePerSecond)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Shutdown stops issuing new probes; in-flight probes resolve or time out
// individually and the run drains to done. Remaining queue entries are
// discarded.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() { close(d.shutdown) })
}

// Run drains the candidate queue with at most concurrency probes in flight.
// It blocks until every dispatched probe has resolved.
func (d *Dispatcher) Run(ctx context.Context, queue []candidate.Candidate, concurrency int) {
	if len(queue) == 0 {
		d.state.Store(int32(StateDone))
		return
	}

	// Clamp to 1 <= C <= len(queue): the limit is an in-flight cap, never
	// more slots than candidates.
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(queue) {
		concurrency = len(queue)
	}

	log.Infof("Dispatching %d candidates, concurrency=%d", len(queue), concurrency)
	startTime := time.Now()

	outcomes := make(chan probe.Outcome)
	next := 0
	inflight := 0

	launch := func(cand candidate.Candidate) {
		if d.bus != nil {
			d.bus.Publish(events.Event{Type: events.ProbeStarted, Proxy: cand.Addr(), Total: len(queue)})
		}
		go func() {
			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					// Run aborted while paced; resolve the slot anyway.
					outcomes <- probe.Outcome{
						Candidate: cand,
						Kind:      probe.KindConnectionError,
						Error:     err.Error(),
					}
					return
				}
			}
			outcomes <- d.prober.Probe(ctx, cand)
		}()
	}

	stopped := false
	stopCh := d.shutdown
	ctxDone := ctx.Done()

	d.state.Store(int32(StateRunning))
	for inflight < concurrency && next < len(queue) {
		launch(queue[next])
		next++
		inflight++
	}
	if next == len(queue) {
		d.state.Store(int32(StateDraining))
	}

	for inflight > 0 {
		select {
		case out := <-outcomes:
			inflight--
			d.agg.Record(out)

			if !stopped && next < len(queue) {
				launch(queue[next])
				next++
				inflight++
			} else if inflight > 0 {
				d.state.Store(int32(StateDraining))
			}

		case <-stopCh:
			stopped = true
			stopCh = nil
			d.state.Store(int32(StateDraining))
			log.Infof("Dispatcher shutdown: %d in flight, %d queued candidates discarded",
				inflight, len(queue)-next)

		case <-ctxDone:
			stopped = true
			ctxDone = nil
			d.state.Store(int32(StateDraining))
			log.Warnf("Dispatch context canceled: draining %d in-flight probes", inflight)
		}
	}

	d.state.Store(int32(StateDone))
	log.Infof("Dispatch complete: %d/%d candidates probed in %v", next, len(queue), time.Since(startTime))
}
