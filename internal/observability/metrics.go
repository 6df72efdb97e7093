package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/credresolve/internal/secrets"
)

// MetricsCollector holds all Prometheus metrics for credresolve.
// Uses a custom registry, never the global one.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Backend fetch metrics.
	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	// Resolution metrics.
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	ResolutionSecrets  *prometheus.HistogramVec

	// HTTP status API metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credresolve",
			Subsystem: "backend",
			Name:      "fetches_total",
			Help:      "Total secret fetches by backend and outcome.",
		}, []string{"backend", "status"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credresolve",
			Subsystem: "backend",
			Name:      "fetch_duration_seconds",
			Help:      "Secret fetch duration in seconds.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"backend"}),

		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credresolve",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total bundle resolutions by backend and outcome.",
		}, []string{"backend", "status"}),

		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credresolve",
			Subsystem: "resolver",
			Name:      "resolution_duration_seconds",
			Help:      "Bundle resolution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		ResolutionSecrets: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credresolve",
			Subsystem: "resolver",
			Name:      "requested_secrets",
			Help:      "Number of secret names per resolution request.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}, []string{"backend"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credresolve",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credresolve",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "credresolve",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.FetchesTotal,
		m.FetchDuration,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.ResolutionSecrets,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordResolution implements secrets.Recorder.
func (m *MetricsCollector) RecordResolution(_ context.Context, o secrets.Outcome) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(o.Backend, o.Status()).Inc()
	m.ResolutionDuration.WithLabelValues(o.Backend).Observe(o.Duration.Seconds())
	m.ResolutionSecrets.WithLabelValues(o.Backend).Observe(float64(len(o.Names)))
}
