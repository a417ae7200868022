// Package observability exposes the pipeline's Prometheus metrics and
// the optional /metrics listener.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devscope_api_calls_total",
			Help: "GitHub API calls issued, by operation.",
		},
		[]string{"op"},
	)

	rateWaitSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "devscope_rate_wait_seconds_total",
			Help: "Cumulative time workers spent blocked on the rate budget.",
		},
	)

	candidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devscope_candidates_total",
			Help: "Candidates reaching a terminal outcome, by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devscope_queue_depth",
			Help: "Candidates still waiting in the enrichment queue.",
		},
	)

	enrichSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devscope_enrichment_duration_seconds",
			Help:    "Wall time from queue pickup to terminal outcome.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(apiCalls, rateWaitSeconds, candidates, queueDepth, enrichSeconds)
}

// CountAPICall records one outbound GitHub call.
func CountAPICall(op string) {
	apiCalls.WithLabelValues(op).Inc()
}

// AddRateWait accumulates time spent blocked on the budget.
func AddRateWait(d time.Duration) {
	rateWaitSeconds.Add(d.Seconds())
}

// CountOutcome records one candidate's terminal outcome.
func CountOutcome(outcome string) {
	candidates.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ObserveEnrichment records one candidate's end-to-end duration.
func ObserveEnrichment(d time.Duration) {
	enrichSeconds.Observe(d.Seconds())
}
