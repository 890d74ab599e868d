// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping. Collectors are
// registered on the registry handed to New rather than on the process-wide
// default, so every component receives its sink explicitly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	HTTPResponseSize       *prometheus.HistogramVec
	RunsTotal              *prometheus.CounterVec
	RecordsProcessedTotal  *prometheus.CounterVec
	RunDuration            *prometheus.HistogramVec
	PhaseDuration          *prometheus.HistogramVec
	CheckpointTimestamp    *prometheus.GaugeVec
	TimestampParseFailures *prometheus.CounterVec
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
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
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response body size in bytes.",
				Buckets: prometheus.ExponentialBuckets(128, 4, 8),
			},
			[]string{"method", "path"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_runs_total",
				Help: "Ingestion runs by source and terminal status.",
			},
			[]string{"source", "status"},
		),
		RecordsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_records_processed_total",
				Help: "Records committed by successful ingestion runs.",
			},
			[]string{"source"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_run_duration_seconds",
				Help:    "Wall-clock duration of ingestion runs.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_phase_duration_seconds",
				Help:    "Time spent per run phase (extract, load).",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"source", "phase"},
		),
		CheckpointTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etl_checkpoint_timestamp_seconds",
				Help: "Unix time of the current high-water mark per source.",
			},
			[]string{"source"},
		),
		TimestampParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_timestamp_parse_failures_total",
				Help: "Records whose timestamp could not be parsed and were excluded from checkpointing.",
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.HTTPResponseSize,
		m.RunsTotal,
		m.RecordsProcessedTotal,
		m.RunDuration,
		m.PhaseDuration,
		m.CheckpointTimestamp,
		m.TimestampParseFailures,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewWithRuntime is New on a fresh registry that also exports Go runtime and
// process collectors.
func NewWithRuntime() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
