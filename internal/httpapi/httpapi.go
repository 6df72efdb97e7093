// Package httpapi serves the credresolve status API.
//
// Unauthenticated: /healthz, /readyz and the Prometheus endpoint.
// /v1 routes require a bearer key when any keys are configured.
// No route ever returns a secret value.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/credresolve/internal/audit"
	"github.com/jkaninda/credresolve/internal/observability"
	"github.com/jkaninda/credresolve/internal/ratelimit"
	"github.com/jkaninda/credresolve/internal/scheduler"
)

const maxAuditLimit = 1000

// ErrorBody is the standard error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ProbeSource exposes probe results. Implemented by *scheduler.Scheduler.
type ProbeSource interface {
	Results() []scheduler.Result
	Result(name string) (scheduler.Result, bool)
	RunProbe(ctx context.Context, name string) (scheduler.Result, error)
}

// AuditSource exposes recent resolution events. Implemented by *audit.Repository.
type AuditSource interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

// Config configures the status API.
type Config struct {
	ListenAddr string   // e.g., ":9090"
	APIKeys    []string // Bearer keys for /v1. Empty = no auth.

	// RunLimiter throttles POST /v1/probes/{name}/run per caller. nil = unlimited.
	RunLimiter *ratelimit.Limiter

	// Observability
	MetricsRegistry *prometheus.Registry            // Registry served on MetricsPath. nil = no metrics endpoint.
	MetricsPath     string                          // Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Readiness checks for /readyz.
	Metrics         *observability.MetricsCollector // HTTP request metrics.
	Tracer          trace.Tracer                    // HTTP request spans.
}

// Server is the HTTP status API.
type Server struct {
	config Config
	probes ProbeSource // nil = probe routes disabled.
	audit  AuditSource // nil = audit route disabled.
	logger *slog.Logger
	server *http.Server
	okapi  *okapi.Okapi
}

// New creates a Server. Routes are mounted by Start.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		logger: logger,
		okapi:  okapi.New(),
	}
}

// WithProbes enables the /v1/probes routes.
func (s *Server) WithProbes(p ProbeSource) *Server {
	s.probes = p
	return s
}

// WithAudit enables the /v1/audit route.
func (s *Server) WithAudit(a AuditSource) *Server {
	s.audit = a
	return s
}

func (s *Server) routes() {
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(s.config.Metrics, s.config.Tracer, next)
		})
	}

	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	v1 := s.okapi.Group("/v1", s.authenticate)
	if s.probes != nil {
		v1.Get("/probes", s.handleProbeList)
		v1.Get("/probes/{name}", s.handleProbeGet)
		v1.Post("/probes/{name}/run", s.handleProbeRun)
	}
	if s.audit != nil {
		v1.Get("/audit", s.handleAuditList)
	}
}

// Start mounts routes and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.routes()

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("status api starting", slog.String("addr", s.config.ListenAddr))
	err := s.okapi.StartServer(s.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("status api stopping")
	err := s.okapi.Shutdown(s.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// --- Handlers ---

func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness runs all registered checks and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func (s *Server) handleProbeList(c *okapi.Context) error {
	return c.OK(s.probes.Results())
}

func (s *Server) handleProbeGet(c *okapi.Context) error {
	res, ok := s.probes.Result(c.Param("name"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "probe not found"})
	}
	return c.OK(res)
}

func (s *Server) handleProbeRun(c *okapi.Context) error {
	caller := s.callerKey(c.Request())
	if err := s.config.RunLimiter.Allow(caller); err != nil {
		wait := s.config.RunLimiter.RetryAfter(caller).Round(time.Second)
		return c.AbortTooManyRequests(fmt.Sprintf("rate limit exceeded, retry in %s", wait))
	}

	res, err := s.probes.RunProbe(c.Context(), c.Param("name"))
	if errors.Is(err, scheduler.ErrUnknownProbe) {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "probe not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorBody{Error: err.Error()})
	}
	return c.OK(res)
}

func (s *Server) handleAuditList(c *okapi.Context) error {
	q := c.Request().URL.Query()
	f := audit.Filter{
		Backend: q.Get("backend"),
		Status:  q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		f.Limit = min(n, maxAuditLimit)
	}

	events, err := s.audit.Query(c.Context(), f)
	if err != nil {
		s.logger.Error("audit query failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, ErrorBody{Error: "audit query failed"})
	}
	return c.OK(events)
}

// --- Middleware ---

// authenticate enforces bearer keys on /v1 when any are configured.
func (s *Server) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(s.config.APIKeys) == 0 {
			return next(c)
		}
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		if s.matchKey(authHeader) < 0 {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}

// matchKey returns the index of the configured API key presented in
// authHeader, or -1. Every key is compared in constant time.
func (s *Server) matchKey(authHeader string) int {
	presented, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return -1
	}
	idx := -1
	for i, key := range s.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			idx = i
		}
	}
	return idx
}

// callerKey identifies the caller for rate limiting: the matched API key
// when one was presented, the client host otherwise. Unverified headers
// never select a bucket.
func (s *Server) callerKey(r *http.Request) string {
	if idx := s.matchKey(r.Header.Get("Authorization")); idx >= 0 {
		return "key:" + strconv.Itoa(idx)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
