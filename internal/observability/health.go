package observability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness from named checks: failed probes,
// the audit store and backend failure rate. Checks run concurrently under
// one shared deadline.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the /readyz response body.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     string  `json:"status"` // "ok" or "fail"
	Message    string  `json:"message,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers check under name, replacing any check of that name.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	if h == nil || check == nil {
		return
	}
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
}

// Names returns the registered check names, sorted.
func (h *HealthChecker) Names() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckReady runs every check and reports "degraded" if any fails.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if h == nil {
		return HealthStatus{Status: "ok"}
	}
	h.mu.RLock()
	checks := make(map[string]func(ctx context.Context) error, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)
			res := CheckResult{Status: "ok", DurationMS: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := HealthStatus{Status: "ok", Checks: results}
	for name, res := range results {
		if res.Status == "ok" {
			continue
		}
		status.Status = "degraded"
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", res.Message),
			)
		}
	}
	return status
}
