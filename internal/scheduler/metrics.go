package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for resolution probes.
type Metrics struct {
	ProbeRuns     *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
	ProbeHealthy  *prometheus.GaugeVec
	LastRun       *prometheus.GaugeVec
}

// NewMetrics creates and registers probe metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ProbeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credresolve",
			Subsystem: "probe",
			Name:      "runs_total",
			Help:      "Total probe runs by probe and outcome.",
		}, []string{"probe", "status"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credresolve",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Probe resolution duration in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"probe"}),
		ProbeHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "credresolve",
			Subsystem: "probe",
			Name:      "healthy",
			Help:      "1 if the probe's last run resolved every name, else 0.",
		}, []string{"probe"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "credresolve",
			Subsystem: "probe",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the probe's last run.",
		}, []string{"probe"}),
	}

	reg.MustRegister(
		m.ProbeRuns,
		m.ProbeDuration,
		m.ProbeHealthy,
		m.LastRun,
	)

	return m
}

func (m *Metrics) observe(probe, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeRuns.WithLabelValues(probe, status).Inc()
	m.ProbeDuration.WithLabelValues(probe).Observe(d.Seconds())
	healthy := 0.0
	if status == "success" {
		healthy = 1
	}
	m.ProbeHealthy.WithLabelValues(probe).Set(healthy)
	m.LastRun.WithLabelValues(probe).SetToCurrentTime()
}
