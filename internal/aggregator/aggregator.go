package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jthatch/proxy-verify/internal/events"
	"github.com/jthatch/proxy-verify/internal/metrics"
	"github.com/jthatch/proxy-verify/internal/probe"
	log "github.com/sirupsen/logrus"
)

// Snapshot is a consistent point-in-time view of run progress, safe to hand
// to concurrent readers (status API, console).
type Snapshot struct {
	Total         int       `json:"total"`
	Completed     int       `json:"completed"`
	Success       int       `json:"success"`
	Failure       int       `json:"failure"`
	BodyMatches   int       `json:"body_matches"`
	Verified      []string  `json:"verified"`
	MeanLatencyMs int64     `json:"mean_latency_ms"`
	Done          bool      `json:"done"`
	Updated       time.Time `json:"updated"`
}

// Result is the finalized accounting of one run.
type Result struct {
	Total         int
	Completed     int
	Success       int
	Failure       int
	BodyMatches   int
	Verified      []string // completion order
	MeanLatencyMs int64    // over successful probes only
	NoSuccess     bool
}

// Aggregator accumulates probe outcomes for one run. All mutation happens
// under its mutex; every candidate is counted exactly once.
type Aggregator struct {
	mu sync.Mutex

	total       int
	completed   int
	success     int
	failure     int
	bodyMatches int

	verified         []string
	successLatencies []int64

	metrics *metrics.Collector
	bus     *events.Bus

	current atomic.Value // *Snapshot
}

func New(total int, collector *metrics.Collector, bus *events.Bus) *Aggregator {
	a := &Aggregator{
		total:    total,
		verified: make([]string, 0),
		metrics:  collector,
		bus:      bus,
	}
	a.current.Store(&Snapshot{Total: total, Verified: []string{}, Updated: time.Now()})
	if collector != nil {
		collector.SetCandidatesTotal(total)
	}
	return a
}

// Record accepts one probe outcome. Outcomes beyond the candidate total are
// dropped; the single-writer dispatch loop should never produce them.
func (a *Aggregator) Record(out probe.Outcome) {
	a.mu.Lock()

	if a.completed >= a.total {
		a.mu.Unlock()
		log.Warnf("Dropping outcome for %s: run already fully accounted", out.Candidate.Addr())
		return
	}

	a.completed++
	if out.Succeeded {
		a.success++
		a.verified = append(a.verified, out.Candidate.Addr())
		a.successLatencies = append(a.successLatencies, out.LatencyMs)
		if out.BodyMatched {
			a.bodyMatches++
		}
	} else {
		a.failure++
	}

	completed, total := a.completed, a.total
	a.storeSnapshotLocked(false)
	a.mu.Unlock()

	if a.metrics != nil {
		if out.Succeeded {
			a.metrics.RecordProbeSuccess()
			if out.BodyMatched {
				a.metrics.RecordBodyMatch()
			}
		} else {
			a.metrics.RecordProbeFailure(string(out.Kind))
		}
		a.metrics.RecordProbeDuration(float64(out.LatencyMs) / 1000.0)
		a.metrics.SetVerifiedProxies(len(a.Snapshot().Verified))
	}

	if a.bus != nil {
		a.bus.Publish(events.Event{
			Type:      events.ProbeResolved,
			Proxy:     out.Candidate.Addr(),
			Outcome:   &out,
			Completed: completed,
			Total:     total,
		})
	}

	if out.Succeeded {
		log.Debugf("Progress %d/%d: %s verified in %dms", completed, total, out.Candidate.Addr(), out.LatencyMs)
	} else {
		log.Debugf("Progress %d/%d: %s failed (%s): %s", completed, total, out.Candidate.Addr(), out.Kind, out.Error)
	}
}

// Snapshot returns the latest progress snapshot (atomic read).
func (a *Aggregator) Snapshot() *Snapshot {
	return a.current.Load().(*Snapshot)
}

// Finalize closes out the run, publishes RunCompleted and returns the Result.
func (a *Aggregator) Finalize() *Result {
	a.mu.Lock()

	res := &Result{
		Total:         a.total,
		Completed:     a.completed,
		Success:       a.success,
		Failure:       a.failure,
		BodyMatches:   a.bodyMatches,
		Verified:      append([]string(nil), a.verified...),
		MeanLatencyMs: a.meanLatencyLocked(),
		NoSuccess:     a.success == 0,
	}
	a.storeSnapshotLocked(true)
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(events.Event{
			Type:      events.RunCompleted,
			Completed: res.Completed,
			Total:     res.Total,
			Summary: &events.Summary{
				Total:         res.Total,
				Completed:     res.Completed,
				Success:       res.Success,
				Failure:       res.Failure,
				BodyMatches:   res.BodyMatches,
				MeanLatencyMs: res.MeanLatencyMs,
				Verified:      res.Verified,
			},
		})
	}

	return res
}

func (a *Aggregator) meanLatencyLocked() int64 {
	if len(a.successLatencies) == 0 {
		return 0
	}
	var sum int64
	for _, l := range a.successLatencies {
		sum += l
	}
	return sum / int64(len(a.successLatencies))
}

func (a *Aggregator) storeSnapshotLocked(done bool) {
	a.current.Store(&Snapshot{
		Total:         a.total,
		Completed:     a.completed,
		Success:       a.success,
		Failure:       a.failure,
		BodyMatches:   a.bodyMatches,
		Verified:      append([]string(nil), a.verified...),
		MeanLatencyMs: a.meanLatencyLocked(),
		Done:          done,
		Updated:       time.Now(),
	})
}
