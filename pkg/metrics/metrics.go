// Package metrics defines the Prometheus metric collectors used across the
// index and search services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/resilience"
)

// Metrics holds all Prometheus collectors for the index and search services.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
	SegmentCommitsTotal  *prometheus.CounterVec
	BuilderDuration      prometheus.Histogram
	FieldReaderLoads     *prometheus.CounterVec
	IndexVersion         prometheus.Gauge
	CircuitState         *prometheus.GaugeVec
	LockRetriesTotal     prometheus.Counter
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg. A nil reg
// leaves the collectors unregistered.
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
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of matching documents per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 1000},
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
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		SegmentCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segment_commits_total",
				Help: "Total upsert transactions by outcome (committed, aborted, failed).",
			},
			[]string{"status"},
		),
		BuilderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trie_builder_duration_seconds",
				Help:    "Time from the first Add to Finalize of a trie builder.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		FieldReaderLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "field_reader_loads_total",
				Help: "Field readers loaded from disk by field.",
			},
			[]string{"field"},
		),
		IndexVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_version",
				Help: "Index version the searcher is pinned to.",
			},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state by name (0 closed, 1 open, 2 half-open).",
			},
			[]string{"name"},
		),
		LockRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_lock_retries_total",
				Help: "Upsert attempts retried because the write lock was held.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.SearchQueriesTotal,
			m.SearchLatency,
			m.SearchResultsCount,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.DocsIndexedTotal,
			m.SegmentCommitsTotal,
			m.BuilderDuration,
			m.FieldReaderLoads,
			m.IndexVersion,
			m.CircuitState,
			m.LockRetriesTotal,
		)
	}

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CircuitObserver returns a hook that mirrors circuit breaker transitions
// into CircuitState. It returns nil on a nil Metrics.
func (m *Metrics) CircuitObserver() func(name string, from, to resilience.State) {
	if m == nil {
		return nil
	}
	return func(name string, _, to resilience.State) {
		m.CircuitState.WithLabelValues(name).Set(float64(to))
	}
}
