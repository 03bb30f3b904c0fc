// Package metrics provides Prometheus metrics for ingestion runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "truth"

// Metrics holds all pipeline collectors. A nil *Metrics is valid and
// records nothing, so components can be constructed without one.
type Metrics struct {
	// Apollo
	APIRequests *prometheus.CounterVec
	APIRetries  *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Records and schema
	Records      *prometheus.CounterVec
	ColumnsAdded prometheus.Counter
	SchemaErrors prometheus.Counter

	// Runs
	Batches       *prometheus.CounterVec
	BatchDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apollo_requests_total",
			Help:      "Apollo calls by endpoint and final outcome",
		},
		[]string{"endpoint", "outcome"}, // "success", "retryable", "fatal"
	)

	m.APIRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apollo_retries_total",
			Help:      "Apollo attempts that were retried",
		},
		[]string{"endpoint"},
	)

	m.APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apollo_call_duration_seconds",
			Help:      "Wall time of one Apollo call including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)

	m.Records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records by upsert outcome",
		},
		[]string{"outcome"}, // "inserted", "updated", "failed", "skipped_no_email"
	)

	m.ColumnsAdded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_columns_added_total",
			Help:      "Enrichment columns added to the truth table",
		},
	)

	m.SchemaErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_errors_total",
			Help:      "Failed enrichment column additions",
		},
	)

	m.Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed pipeline runs by lead source and status",
		},
		[]string{"lead_source", "status"}, // "ok", "empty", "timeout", "error"
	)

	m.BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one pipeline run",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	m.registry.MustRegister(
		m.APIRequests,
		m.APIRetries,
		m.APILatency,
		m.Records,
		m.ColumnsAdded,
		m.SchemaErrors,
		m.Batches,
		m.BatchDuration,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAPICall records one Apollo call's final outcome and duration.
func (m *Metrics) RecordAPICall(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	m.APILatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordRetry counts a retried Apollo attempt.
func (m *Metrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.APIRetries.WithLabelValues(endpoint).Inc()
}

// RecordOutcome counts n records with the given upsert outcome.
func (m *Metrics) RecordOutcome(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Records.WithLabelValues(outcome).Add(float64(n))
}

// RecordColumnAdded counts a successful column addition.
func (m *Metrics) RecordColumnAdded() {
	if m == nil {
		return
	}
	m.ColumnsAdded.Inc()
}

// RecordSchemaError counts a failed column addition.
func (m *Metrics) RecordSchemaError() {
	if m == nil {
		return
	}
	m.SchemaErrors.Inc()
}

// RecordBatch records a finished run.
func (m *Metrics) RecordBatch(leadSource, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(leadSource, status).Inc()
	m.BatchDuration.Observe(d.Seconds())
}
