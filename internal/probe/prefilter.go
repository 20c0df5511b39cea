package probe

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/jthatch/proxy-verify/internal/candidate"
	log "github.com/sirupsen/logrus"
)

// FastConnectFilter performs a TCP-only connection pre-test of every
// candidate. Connectable candidates are returned in their original order for
// the full HTTP probe; the rest come back as immediate connection-error
// outcomes so every candidate is still accounted for exactly once.
func FastConnectFilter(ctx context.Context, candidates []candidate.Candidate, timeout time.Duration, concurrency int) ([]candidate.Candidate, []Outcome) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	log.Infof("Starting fast TCP filter: %d candidates, concurrency=%d, timeout=%v",
		len(candidates), concurrency, timeout)

	startTime := time.Now()

	connectable := make([]bool, len(candidates))
	latencies := make([]int64, len(candidates))
	errs := make([]string, len(candidates))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, cand := range candidates {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(idx int, c candidate.Candidate) {
				defer wg.Done()
				defer func() { <-sem }()

				dialStart := time.Now()
				conn, err := net.DialTimeout("tcp", c.Addr(), timeout)
				latencies[idx] = time.Since(dialStart).Milliseconds()
				if err != nil {
					errs[idx] = err.Error()
					return
				}
				conn.Close()
				connectable[idx] = true
			}(i, cand)
		}
	}

	wg.Wait()

	passed := make([]candidate.Candidate, 0, len(candidates))
	var failed []Outcome
	for i, cand := range candidates {
		if connectable[i] {
			passed = append(passed, cand)
			continue
		}
		errMsg := errs[i]
		if errMsg == "" {
			errMsg = ctx.Err().Error()
		}
		failed = append(failed, Outcome{
			Candidate: cand,
			Kind:      KindConnectionError,
			Error:     errMsg,
			LatencyMs: latencies[i],
		})
	}

	duration := time.Since(startTime)
	log.Infof("Fast filter complete: %d/%d connectable in %v",
		len(passed), len(candidates), duration)

	return passed, failed
}
