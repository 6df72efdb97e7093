// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// readiness checks and backend failure-rate detection for credresolve.
// Every component is optional and every accessor is nil-safe, so callers
// wire them unconditionally.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/credresolve/internal/config"
	"github.com/jkaninda/credresolve/internal/secrets"
)

// Observability groups the enabled components. Health is always set;
// the others are nil when disabled.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker
}

// New builds the components enabled in cfg. A nil cfg disables everything
// and yields a nil *Observability.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}

	obs := &Observability{Health: NewHealthChecker(logger)}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	return obs, nil
}

// Recorders returns the resolution recorders of the enabled components,
// for secrets.WithRecorder.
func (o *Observability) Recorders() []secrets.Recorder {
	if o == nil {
		return nil
	}
	var recs []secrets.Recorder
	if o.Metrics != nil {
		recs = append(recs, o.Metrics)
	}
	if o.Tracer != nil {
		recs = append(recs, o.Tracer)
	}
	return recs
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracer == nil {
		return
	}
	_ = o.Tracer.Shutdown(ctx)
}

func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}

func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *Observability) AnomalyOrNil() *AnomalyDetector {
	if o == nil {
		return nil
	}
	return o.Anomaly
}
