package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jkaninda/credresolve/internal/config"
	"github.com/jkaninda/credresolve/internal/secrets"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsAndAnomaly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
		Anomaly: &config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil {
		t.Error("expected metrics collector")
	}
	if obs.AnomalyOrNil() == nil {
		t.Error("expected anomaly detector")
	}
}

func TestObservability_NilAccessors(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
	if obs.AnomalyOrNil() != nil {
		t.Error("expected nil anomaly from nil Observability")
	}
	if obs.Recorders() != nil {
		t.Error("expected no recorders from nil Observability")
	}
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Error("nil TracerSetup should return a no-op tracer")
	}
	ts.RecordResolution(context.Background(), secrets.Outcome{})
}

func TestTracerSetup_RecordResolution(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	ts := newTracerSetup("test", sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = ts.Shutdown(context.Background()) })

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.RecordResolution(context.Background(), secrets.Outcome{
		Backend:   "vault:azure",
		Names:     []string{"username", "password"},
		Err:       &secrets.NotFoundError{Name: "password", Backend: "vault:azure"},
		StartedAt: start,
		Duration:  250 * time.Millisecond,
	})

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "secrets.resolve" {
		t.Errorf("span name = %q", span.Name())
	}
	if !span.StartTime().Equal(start) || span.EndTime().Sub(span.StartTime()) != 250*time.Millisecond {
		t.Errorf("span timing = %v..%v", span.StartTime(), span.EndTime())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", span.Status().Code)
	}
	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["secret.status"] != "not_found" || attrs["secret.backend"] != "vault:azure" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestNewTracerSetup_Disabled(t *testing.T) {
	ts, err := NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil || ts != nil {
		t.Errorf("disabled tracing = %v, %v", ts, err)
	}
	if _, err := NewTracerSetup(&config.TracingConfig{Enabled: true, Protocol: "zipkin"}); err == nil {
		t.Error("expected error for unsupported protocol")
	}
}

func TestObservability_Recorders(t *testing.T) {
	obs := &Observability{Metrics: NewMetricsCollector(), Tracer: newTracerSetup("test")}
	if got := len(obs.Recorders()); got != 2 {
		t.Errorf("recorders = %d, want 2", got)
	}
	if got := len((&Observability{}).Recorders()); got != 0 {
		t.Errorf("recorders with nothing enabled = %d", got)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Gather(t *testing.T) {
	m := NewMetricsCollector()
	m.FetchesTotal.WithLabelValues("env", "success").Inc()
	m.ResolutionsTotal.WithLabelValues("env", "success").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"credresolve_backend_fetches_total",
		"credresolve_resolver_resolutions_total",
		"credresolve_active_requests",
	} {
		if !names[want] {
			t.Errorf("metric %q not gathered", want)
		}
	}
}

func TestMetricsCollector_RecordResolution(t *testing.T) {
	m := NewMetricsCollector()
	ctx := context.Background()

	m.RecordResolution(ctx, secrets.Outcome{Backend: "env", Names: []string{"a", "b"}, Duration: time.Millisecond})
	m.RecordResolution(ctx, secrets.Outcome{
		Backend: "env",
		Names:   []string{"a"},
		Err:     &secrets.NotFoundError{Name: "a", Backend: "env"},
	})

	if got := counterValue(t, m.Registry, "credresolve_resolver_resolutions_total",
		prometheus.Labels{"backend": "env", "status": "success"}); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "credresolve_resolver_resolutions_total",
		prometheus.Labels{"backend": "env", "status": "not_found"}); got != 1 {
		t.Errorf("not_found count = %v, want 1", got)
	}
}

func TestMetricsCollector_RecordResolutionNil(t *testing.T) {
	var m *MetricsCollector
	m.RecordResolution(context.Background(), secrets.Outcome{Backend: "env"})
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("audit", func(ctx context.Context) error { return nil })
	h.AddCheck("probes", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(status.Checks))
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("audit", func(ctx context.Context) error { return nil })
	h.AddCheck("vault", func(ctx context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["vault"].Status != "fail" {
		t.Errorf("vault check = %q, want fail", status.Checks["vault"].Status)
	}
	if status.Checks["vault"].Message != "connection refused" {
		t.Errorf("vault message = %q", status.Checks["vault"].Message)
	}
	if status.Checks["audit"].Status != "ok" {
		t.Errorf("audit check = %q, want ok", status.Checks["audit"].Status)
	}
}

func TestHealthChecker_ReplaceAndNames(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("probes", func(ctx context.Context) error { return errors.New("down") })
	h.AddCheck("probes", func(ctx context.Context) error { return nil })
	h.AddCheck("audit", func(ctx context.Context) error { return nil })

	if got := h.Names(); len(got) != 2 || got[0] != "audit" || got[1] != "probes" {
		t.Errorf("Names() = %v", got)
	}
	if got := h.CheckReady(context.Background()).Status; got != "ok" {
		t.Errorf("status = %q, replaced check should pass", got)
	}
}

func TestHealthChecker_RunsConcurrently(t *testing.T) {
	h := NewHealthChecker(nil)
	release := make(chan struct{})
	h.AddCheck("a", func(ctx context.Context) error {
		<-release
		return nil
	})
	h.AddCheck("b", func(ctx context.Context) error {
		close(release)
		return nil
	})

	done := make(chan HealthStatus, 1)
	go func() { done <- h.CheckReady(context.Background()) }()
	select {
	case status := <-done:
		if status.Status != "ok" {
			t.Errorf("status = %q", status.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checks did not run concurrently")
	}
}

func TestHealthChecker_CheckHasDeadline(t *testing.T) {
	h := NewHealthChecker(nil)
	var hadDeadline bool
	h.AddCheck("deadline", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	h.CheckReady(context.Background())
	if !hadDeadline {
		t.Error("expected readiness checks to run with a deadline")
	}
}

// --- AnomalyDetector ---

func newTestDetector(threshold float64, now *time.Time) *AnomalyDetector {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: threshold,
		WindowSeconds:      60,
	}, nil)
	a.now = func() time.Time { return *now }
	return a
}

func TestAnomalyDetector_NotEnoughSamples(t *testing.T) {
	now := time.Now()
	a := newTestDetector(0.5, &now)
	for i := 0; i < minAnomalySamples-1; i++ {
		a.RecordFailure("vault:azure")
	}
	if a.Anomalous("vault:azure") {
		t.Error("should not flag before the minimum sample count")
	}
}

func TestAnomalyDetector_HighFailureRate(t *testing.T) {
	now := time.Now()
	a := newTestDetector(0.5, &now)
	a.RecordSuccess("vault:azure")
	for i := 0; i < 5; i++ {
		a.RecordFailure("vault:azure")
	}
	if !a.Anomalous("vault:azure") {
		t.Errorf("expected anomaly, rate = %v", a.FailureRate("vault:azure"))
	}
	if a.Anomalous("env") {
		t.Error("other backends should be unaffected")
	}
}

func TestAnomalyDetector_WindowExpiry(t *testing.T) {
	now := time.Now()
	a := newTestDetector(0.5, &now)
	for i := 0; i < 6; i++ {
		a.RecordFailure("vault:azure")
	}
	if !a.Anomalous("vault:azure") {
		t.Fatal("expected anomaly inside the window")
	}

	now = now.Add(2 * time.Minute)
	if a.Anomalous("vault:azure") {
		t.Error("failures outside the window should be pruned")
	}
	if rate := a.FailureRate("vault:azure"); rate != 0 {
		t.Errorf("rate = %v, want 0 after expiry", rate)
	}
}

func TestAnomalyDetector_ZeroThresholdDisabled(t *testing.T) {
	now := time.Now()
	a := newTestDetector(0, &now)
	for i := 0; i < 10; i++ {
		a.RecordFailure("env")
	}
	if a.Anomalous("env") {
		t.Error("zero threshold should never flag")
	}
}

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	a.RecordFailure("env")
	a.RecordSuccess("env")
	if a.Anomalous("env") {
		t.Error("nil detector should never flag")
	}
}

// --- InstrumentedBackend ---

type fakeBackend struct {
	name   string
	values map[string]string
	err    error
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Fetch(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok {
		return "", &secrets.NotFoundError{Name: name, Backend: f.name}
	}
	return v, nil
}

func TestNewInstrumentedBackend_Passthrough(t *testing.T) {
	b := &fakeBackend{name: "env"}
	if got := NewInstrumentedBackend(b, nil); got != secrets.Backend(b) {
		t.Error("nil Observability should return the backend unchanged")
	}
	if got := NewInstrumentedBackend(b, &Observability{}); got != secrets.Backend(b) {
		t.Error("empty Observability should return the backend unchanged")
	}
}

func TestInstrumentedBackend_Metrics(t *testing.T) {
	m := NewMetricsCollector()
	b := NewInstrumentedBackend(&fakeBackend{
		name:   "env",
		values: map[string]string{"api_key": "abc123"},
	}, &Observability{Metrics: m})

	if b.Name() != "env" {
		t.Errorf("Name() = %q, want env", b.Name())
	}
	got, err := b.Fetch(context.Background(), "api_key")
	if err != nil || got != "abc123" {
		t.Fatalf("Fetch() = %q, %v", got, err)
	}
	if _, err := b.Fetch(context.Background(), "missing"); !secrets.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if got := counterValue(t, m.Registry, "credresolve_backend_fetches_total",
		prometheus.Labels{"backend": "env", "status": "success"}); got != 1 {
		t.Errorf("success fetches = %v, want 1", got)
	}
	if got := counterValue(t, m.Registry, "credresolve_backend_fetches_total",
		prometheus.Labels{"backend": "env", "status": "not_found"}); got != 1 {
		t.Errorf("not_found fetches = %v, want 1", got)
	}
}

func TestInstrumentedBackend_AnomalyIgnoresNotFound(t *testing.T) {
	now := time.Now()
	a := newTestDetector(0.5, &now)
	b := NewInstrumentedBackend(&fakeBackend{name: "env"}, &Observability{Anomaly: a})

	for i := 0; i < 10; i++ {
		_, _ = b.Fetch(context.Background(), "missing")
	}
	if a.Anomalous("env") {
		t.Error("not-found lookups should not count as backend failures")
	}
}

func TestInstrumentedBackend_AnomalyOnUnavailable(t *testing.T) {
	now := time.Now()
	a := newTestDetector(0.5, &now)
	b := NewInstrumentedBackend(&fakeBackend{
		name: "vault:azure",
		err:  &secrets.BackendUnavailableError{Backend: "vault:azure", Err: errors.New("dial tcp: timeout")},
	}, &Observability{Anomaly: a})

	for i := 0; i < 5; i++ {
		if _, err := b.Fetch(context.Background(), "password"); !secrets.IsUnavailable(err) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	if !a.Anomalous("vault:azure") {
		t.Error("expected anomaly after repeated unavailability")
	}
}

func TestInstrumentedBackend_SpanOmitsValue(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	b := &InstrumentedBackend{
		inner:  &fakeBackend{name: "env", values: map[string]string{"password": "hunter2"}},
		tracer: tp.Tracer("test"),
	}
	if _, err := b.Fetch(context.Background(), "password"); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "secrets.fetch" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	for _, kv := range spans[0].Attributes() {
		if kv.Value.Emit() == "hunter2" {
			t.Errorf("span attribute %q leaked the secret value", kv.Key)
		}
	}
}

// --- Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	got := counterValue(t, metrics.Registry, "credresolve_http_requests_total",
		prometheus.Labels{"method": "GET", "path": "/readyz", "status_code": "503"})
	if got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics and nil tracer.
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
