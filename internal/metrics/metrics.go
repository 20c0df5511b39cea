package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probesSuccess prometheus.Counter
	probesFailure prometheus.Counter
	probeDuration prometheus.Histogram
	bodyMatches   prometheus.Counter

	// Run gauges
	candidatesTotal prometheus.Gauge
	verifiedProxies prometheus.Gauge

	// Status API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of proxy probes by result",
			},
			[]string{"result"},
		),
		probesSuccess: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_success_total",
				Help:      "Total number of successful probes",
			},
		),
		probesFailure: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_failure_total",
				Help:      "Total number of failed probes",
			},
		),
		probeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Probe duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		bodyMatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "body_matches_total",
				Help:      "Successful probes whose body matched the configured pattern",
			},
		),
		candidatesTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates_total",
				Help:      "Number of candidates in the current run",
			},
		),
		verifiedProxies: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "verified_proxies",
				Help:      "Current number of verified proxies",
			},
		),
		apiRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of status API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Status API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordProbeSuccess() {
	c.probesTotal.WithLabelValues("success").Inc()
	c.probesSuccess.Inc()
}

func (c *Collector) RecordProbeFailure(kind string) {
	c.probesTotal.WithLabelValues(kind).Inc()
	c.probesFailure.Inc()
}

func (c *Collector) RecordProbeDuration(seconds float64) {
	c.probeDuration.Observe(seconds)
}

func (c *Collector) RecordBodyMatch() {
	c.bodyMatches.Inc()
}

func (c *Collector) SetCandidatesTotal(count int) {
	c.candidatesTotal.Set(float64(count))
}

func (c *Collector) SetVerifiedProxies(count int) {
	c.verifiedProxies.Set(float64(count))
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
