// Package metrics exposes Prometheus collectors for the harvesting pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	inflightFetches            prometheus.Gauge
	listingsTotal              *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	dedupMatchesTotal          *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	embeddingsTotal            *prometheus.CounterVec
	indexUpsertsTotal          *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Adapter invocations, labeled by source and outcome (success, retry, failed).",
			},
			[]string{"source", "outcome"},
		)

		inflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_inflight_fetches",
				Help: "Adapter invocations currently in flight.",
			},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_total",
				Help: "Raw listings delivered by adapters, labeled by source.",
			},
			[]string{"source"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Per-item outcomes, labeled by source and result (new, updated or an error kind).",
			},
			[]string{"source", "result"},
		)

		dedupMatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_dedup_decisions_total",
				Help: "Deduplication decisions, labeled by match type.",
			},
			[]string{"match_type"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		embeddingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_embeddings_total",
				Help: "Embedding computations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		indexUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_index_upserts_total",
				Help: "Vector index upserts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_runs_total",
				Help: "Completed harvest runs, labeled by final status.",
			},
			[]string{"status"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_stage_duration_seconds",
				Help:    "Latency of blocking pipeline stages.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one adapter invocation outcome.
func ObserveFetchAttempt(source, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(source, outcome).Inc()
}

// IncInflight marks an adapter invocation as started.
func IncInflight() {
	Init()
	inflightFetches.Inc()
}

// DecInflight marks an adapter invocation as finished.
func DecInflight() {
	Init()
	inflightFetches.Dec()
}

// ObserveListings counts raw listings delivered for a source.
func ObserveListings(source string, n int) {
	Init()
	if n > 0 {
		listingsTotal.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveItem counts one per-item outcome.
func ObserveItem(source, result string) {
	Init()
	itemsTotal.WithLabelValues(source, result).Inc()
}

// ObserveDedup counts one deduplication decision.
func ObserveDedup(matchType string) {
	Init()
	dedupMatchesTotal.WithLabelValues(matchType).Inc()
}

// ObserveRateLimitDelay records time spent waiting on a limiter.
func ObserveRateLimitDelay(key string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(key).Observe(d.Seconds())
}

// ObserveEmbedding counts one embedding outcome (stored, failed, cached).
func ObserveEmbedding(outcome string) {
	Init()
	embeddingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveIndexUpsert counts one vector index upsert outcome.
func ObserveIndexUpsert(outcome string) {
	Init()
	indexUpsertsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun counts a finished harvest run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records the latency of a blocking stage.
func ObserveStage(stage string, d time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
