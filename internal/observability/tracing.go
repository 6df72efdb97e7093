package observability

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/credresolve/internal/config"
	"github.com/jkaninda/credresolve/internal/secrets"
)

const defaultServiceName = "credresolve"

// TracerSetup owns the provider behind credresolve spans. It is passed to
// the components that trace and never installed as the global provider.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup exports spans over OTLP, gRPC unless protocol is "http".
// Returns nil when tracing is disabled.
func NewTracerSetup(cfg *config.TracingConfig) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	ctx := context.Background()

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	name := cmp.Or(cfg.ServiceName, defaultServiceName)
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}

	return newTracerSetup(name,
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	), nil
}

func newTracerSetup(name string, opts ...sdktrace.TracerProviderOption) *TracerSetup {
	tp := sdktrace.NewTracerProvider(opts...)
	return &TracerSetup{provider: tp, tracer: tp.Tracer(name)}
}

func newExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case "grpc", "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported protocol %q (use grpc or http)", cfg.Protocol)
	}
}

// Tracer returns the tracer, or a no-op tracer on a nil setup.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// RecordResolution implements secrets.Recorder. Each attempt becomes one
// "secrets.resolve" span back-dated to its start; names are attributes,
// values never are.
func (t *TracerSetup) RecordResolution(ctx context.Context, o secrets.Outcome) {
	if t == nil {
		return
	}
	status := o.Status()
	_, span := t.tracer.Start(ctx, "secrets.resolve",
		trace.WithTimestamp(o.StartedAt),
		trace.WithAttributes(
			attribute.String("secret.backend", o.Backend),
			attribute.StringSlice("secret.names", o.Names),
			attribute.String("secret.status", status),
		))
	if o.Err != nil {
		span.SetStatus(codes.Error, status)
	}
	span.End(trace.WithTimestamp(o.StartedAt.Add(o.Duration)))
}

// Shutdown flushes pending spans.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
