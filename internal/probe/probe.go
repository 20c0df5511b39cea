package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/corpix/uarand"
	"github.com/jthatch/proxy-verify/internal/candidate"
	log "github.com/sirupsen/logrus"
)

// Policy selects how the per-probe deadline is enforced.
type Policy string

const (
	// PolicyStrict aborts the probe when the deadline passes, even if the
	// response body is still streaming.
	PolicyStrict Policy = "strict"
	// PolicyLenient applies the deadline only until the response starts;
	// once bytes are flowing the probe runs to completion.
	PolicyLenient Policy = "lenient"
)

// FailureKind classifies a failed probe.
type FailureKind string

const (
	KindConnectionError FailureKind = "connection_error"
	KindTimeout         FailureKind = "timeout"
)

// Outcome is the immutable result of one probe. Exactly one Outcome is
// produced per candidate per run.
type Outcome struct {
	Candidate   candidate.Candidate
	Succeeded   bool
	Kind        FailureKind
	Error       string
	LatencyMs   int64
	BodyMatched bool
	Header      http.Header
	BodySample  []byte
}

// Config holds the probe parameters fixed for a whole run.
type Config struct {
	TargetURL        string
	Timeout          time.Duration
	Policy           Policy
	BodyMatchPattern string // optional regexp tested against successful bodies
	MaxBodyBytes     int64
	MaxSampleBytes   int
}

// Prober issues single HTTP GET probes through candidate proxies.
type Prober struct {
	target      *url.URL
	timeout     time.Duration
	policy      Policy
	bodyPattern *regexp.Regexp
	maxBody     int64
	maxSample   int
}

func New(cfg Config) (*Prober, error) {
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("target URL %q must be absolute", cfg.TargetURL)
	}

	var pattern *regexp.Regexp
	if cfg.BodyMatchPattern != "" {
		pattern, err = regexp.Compile(cfg.BodyMatchPattern)
		if err != nil {
			return nil, fmt.Errorf("compile body match pattern: %w", err)
		}
	}

	if cfg.Policy != PolicyStrict && cfg.Policy != PolicyLenient {
		return nil, fmt.Errorf("unknown timeout policy %q", cfg.Policy)
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1MB body cap
	}
	maxSample := cfg.MaxSampleBytes
	if maxSample <= 0 {
		maxSample = 4096
	}

	return &Prober{
		target:      target,
		timeout:     cfg.Timeout,
		policy:      cfg.Policy,
		bodyPattern: pattern,
		maxBody:     maxBody,
		maxSample:   maxSample,
	}, nil
}

// latch guarantees exactly-once resolution of a probe. The first caller of
// resolve wins; any later timeout or completion signal is discarded.
type latch struct {
	resolved atomic.Bool
}

func (l *latch) resolve() bool {
	return l.resolved.CompareAndSwap(false, true)
}

// Probe attempts one HTTP GET of the target URL through the given proxy.
// It always returns exactly one Outcome; the in-flight request is actively
// aborted when the deadline fires so the socket is released promptly.
func (p *Prober) Probe(ctx context.Context, cand candidate.Candidate) Outcome {
	start := time.Now()

	proxyURL, err := url.Parse("http://" + cand.Addr())
	if err != nil {
		return Outcome{
			Candidate: cand,
			Kind:      KindConnectionError,
			Error:     fmt.Sprintf("parse proxy URL: %v", err),
		}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	transport := p.newTransport(proxyURL)
	defer transport.CloseIdleConnections()

	var l latch
	done := make(chan Outcome, 1)

	go func() {
		out := p.exchange(reqCtx, transport, cand, start)
		if l.resolve() {
			done <- out
		}
	}()

	if p.policy == PolicyLenient {
		// The transport's dial and response-header timeouts enforce the
		// deadline up to response start; after that the exchange is
		// allowed to run to completion.
		return <-done
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out
	case <-timer.C:
		if l.resolve() {
			cancel()
			return Outcome{
				Candidate: cand,
				Kind:      KindTimeout,
				Error:     fmt.Sprintf("deadline %v exceeded", p.timeout),
				LatencyMs: time.Since(start).Milliseconds(),
			}
		}
		// Lost the race against a resolution already in flight.
		return <-done
	}
}

func (p *Prober) newTransport(proxyURL *url.URL) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout: p.timeout,
		}).DialContext,
		ForceAttemptHTTP2:   false,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: p.timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}
	if p.policy == PolicyLenient {
		transport.ResponseHeaderTimeout = p.timeout
	}
	return transport
}

func (p *Prober) exchange(ctx context.Context, transport *http.Transport, cand candidate.Candidate, start time.Time) Outcome {
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target.String(), nil)
	if err != nil {
		return Outcome{
			Candidate: cand,
			Kind:      KindConnectionError,
			Error:     fmt.Sprintf("create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	req.Host = p.target.Hostname()
	req.Header.Set("User-Agent", uarand.GetRandom())

	resp, err := client.Do(req)
	if err != nil {
		return p.failure(cand, err, start)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	if err != nil {
		return p.failure(cand, err, start)
	}
	// Drain anything beyond the cap so the response counts as complete.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return p.failure(cand, err, start)
	}

	latency := time.Since(start)

	out := Outcome{
		Candidate: cand,
		Succeeded: true,
		LatencyMs: latency.Milliseconds(),
		Header:    resp.Header.Clone(),
	}
	if len(body) > p.maxSample {
		out.BodySample = body[:p.maxSample]
	} else {
		out.BodySample = body
	}
	if p.bodyPattern != nil && p.bodyPattern.Match(body) {
		out.BodyMatched = true
	}

	log.Debugf("Probe %s ok: HTTP %d in %dms", cand.Addr(), resp.StatusCode, out.LatencyMs)
	return out
}

func (p *Prober) failure(cand candidate.Candidate, err error, start time.Time) Outcome {
	return Outcome{
		Candidate: cand,
		Kind:      classify(err),
		Error:     err.Error(),
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// classify maps a transport error to the failure taxonomy: deadline-shaped
// errors are timeouts, everything else is a connection error.
func classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnectionError
}
