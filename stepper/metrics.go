package stepper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RecordsInserted   prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	DenialsTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CyclesTotal       prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total HTTP requests issued against the directory.",
		},
		[]string{"method"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "HTTP request latency for directory requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	inserted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_inserted_total",
			Help: "Total number of novel records written to the sink.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_duplicate_total",
			Help: "Total number of records discarded as already seen.",
		},
	)
	denials := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_denials_total",
			Help: "Total number of access-denied responses.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of transient request errors by type.",
		},
		[]string{"error_type"},
	)
	cycles := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_cycles_total",
			Help: "Total number of scheduler cycles started.",
		},
	)

	registry.MustRegister(requests, requestDuration, inserted, duplicates, denials, errorsTotal, cycles)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RecordsInserted:   inserted,
		DuplicatesSkipped: duplicates,
		DenialsTotal:      denials,
		ErrorsTotal:       errorsTotal,
		CyclesTotal:       cycles,
	}
}

// IncRequest increments the requests total counter for a method.
func (m *Metrics) IncRequest(method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddInserted counts novel records written to the sink.
func (m *Metrics) AddInserted(n int) {
	if m == nil {
		return
	}
	m.RecordsInserted.Add(float64(n))
}

// AddDuplicates counts records discarded by the dedupe store.
func (m *Metrics) AddDuplicates(n int) {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.Add(float64(n))
}

// IncDenied counts access-denied responses.
func (m *Metrics) IncDenied() {
	if m == nil {
		return
	}
	m.DenialsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCycle counts scheduler cycles.
func (m *Metrics) IncCycle() {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
}
