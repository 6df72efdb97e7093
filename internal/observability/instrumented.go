package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/credresolve/internal/secrets"
)

// InstrumentedBackend wraps a secrets.Backend with tracing, metrics, and
// anomaly tracking. Names are recorded on spans; values never are.
type InstrumentedBackend struct {
	inner   secrets.Backend
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedBackend wraps b. Returns b unchanged when obs is nil or
// has no enabled components.
func NewInstrumentedBackend(b secrets.Backend, obs *Observability) secrets.Backend {
	if b == nil || obs == nil {
		return b
	}
	if obs.Metrics == nil && obs.Tracer == nil && obs.Anomaly == nil {
		return b
	}
	ib := &InstrumentedBackend{
		inner:   b,
		metrics: obs.Metrics,
		anomaly: obs.Anomaly,
	}
	if obs.Tracer != nil {
		ib.tracer = obs.Tracer.Tracer()
	}
	return ib
}

// Name returns the wrapped backend's name so bundles and errors are
// labelled with the real source.
func (b *InstrumentedBackend) Name() string { return b.inner.Name() }

// Unwrap returns the wrapped backend.
func (b *InstrumentedBackend) Unwrap() secrets.Backend { return b.inner }

func (b *InstrumentedBackend) Fetch(ctx context.Context, name string) (string, error) {
	backend := b.inner.Name()

	var span trace.Span
	if b.tracer != nil {
		ctx, span = b.tracer.Start(ctx, "secrets.fetch",
			trace.WithAttributes(
				attribute.String("secret.backend", backend),
				attribute.String("secret.name", name),
			))
		defer span.End()
	}

	start := time.Now()
	value, err := b.inner.Fetch(ctx, name)
	elapsed := time.Since(start)

	status := fetchStatus(err)
	if b.metrics != nil {
		b.metrics.FetchesTotal.WithLabelValues(backend, status).Inc()
		b.metrics.FetchDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	}

	// A missing name is a caller problem, not a backend fault.
	switch {
	case err == nil, secrets.IsNotFound(err):
		b.anomaly.RecordSuccess(backend)
	default:
		b.anomaly.RecordFailure(backend)
	}

	if span != nil {
		span.SetAttributes(attribute.String("secret.status", status))
		if err != nil {
			span.SetStatus(codes.Error, status)
		}
	}
	return value, err
}

func fetchStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case secrets.IsNotFound(err):
		return "not_found"
	case secrets.IsUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
