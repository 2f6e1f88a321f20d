package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the aggregator.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	ProductsTotal       prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	SessionsTotal       *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	AdmissionRejections *prometheus.CounterVec
	PoolRecycles        prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openbox_backend_requests_total",
			Help: "Backend requests issued by source workers, by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openbox_backend_request_duration_seconds",
			Help:    "Time from request start to terminal outcome for one source.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 250, 300},
		},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openbox_products_total",
			Help: "Total number of products forwarded to clients.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openbox_source_errors_total",
			Help: "Total number of source failures by type.",
		},
		[]string{"error_type"},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openbox_sessions_total",
			Help: "Finished search sessions by outcome.",
		},
		[]string{"outcome"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "openbox_active_sessions",
			Help: "Search sessions currently streaming.",
		},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openbox_admission_rejections_total",
			Help: "Searches refused before starting, by reason.",
		},
		[]string{"reason"},
	)
	recycles := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "openbox_client_pool_recycles_total",
			Help: "Number of backend client generations retired by age.",
		},
	)

	registry.MustRegister(requests, requestDuration, products, errorsTotal, sessions, active, rejections, recycles)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		ProductsTotal:       products,
		ErrorsTotal:         errorsTotal,
		SessionsTotal:       sessions,
		ActiveSessions:      active,
		AdmissionRejections: rejections,
		PoolRecycles:        recycles,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records how long one source took.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddProducts adds n to the forwarded products counter.
func (m *Metrics) AddProducts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SessionStarted marks a session as streaming.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionFinished records the outcome of a session that was streaming.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// IncRejection counts a refused search.
func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}

// IncRecycle counts a retired client generation.
func (m *Metrics) IncRecycle() {
	if m == nil {
		return
	}
	m.PoolRecycles.Inc()
}
