// Package metrics defines the Prometheus metric collectors used by the
// ingest, vectorization and query services and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ListingsUpsertedTotal *prometheus.CounterVec
	FieldsMissingTotal    *prometheus.CounterVec
	IngestRejectedTotal   *prometheus.CounterVec

	SyncRunsTotal        *prometheus.CounterVec
	SyncListingsTotal    *prometheus.CounterVec
	SyncDuration         prometheus.Histogram
	EmbeddingLatency     prometheus.Histogram
	UnvectorisedObserved prometheus.Gauge

	QueriesTotal        *prometheus.CounterVec
	QueryLatency        *prometheus.HistogramVec
	QueryResultsCount   prometheus.Histogram
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ListingsUpsertedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_upserted_total",
				Help: "Listings written by the ingest pipeline, by action (created, updated, unchanged).",
			},
			[]string{"action"},
		),
		FieldsMissingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_fields_missing_total",
				Help: "Configured fields absent from a raw listing, by field.",
			},
			[]string{"field"},
		),
		IngestRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rejected_total",
				Help: "Raw listings dropped before storage, by reason.",
			},
			[]string{"reason"},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorise_runs_total",
				Help: "Vectorization sync runs by outcome.",
			},
			[]string{"status"},
		),
		SyncListingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorise_listings_total",
				Help: "Listings processed by sync runs, by outcome (embedded, failed).",
			},
			[]string{"outcome"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectorise_run_duration_seconds",
				Help:    "Duration of a vectorization sync run.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		EmbeddingLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedding_latency_seconds",
				Help:    "Latency of a single embedding call.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		UnvectorisedObserved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vectorise_last_claimed",
				Help: "Number of listings claimed by the most recent sync run.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "semantic_queries_total",
				Help: "Semantic queries by result type (ok, zero_result, invalid, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "semantic_query_latency_seconds",
				Help:    "Semantic query latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "semantic_query_results_count",
				Help:    "Number of matches returned per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ListingsUpsertedTotal,
		m.FieldsMissingTotal,
		m.IngestRejectedTotal,
		m.SyncRunsTotal,
		m.SyncListingsTotal,
		m.SyncDuration,
		m.EmbeddingLatency,
		m.UnvectorisedObserved,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
