package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/credresolve/internal/config"
)

const (
	defaultAnomalyWindow = 300 * time.Second
	minAnomalySamples    = 5
)

// AnomalyDetector flags backends whose fetch failure rate over a sliding
// window exceeds the configured threshold.
type AnomalyDetector struct {
	mu        sync.Mutex
	failures  map[string]*slidingWindow
	successes map[string]*slidingWindow
	threshold float64
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	var threshold float64
	if cfg != nil {
		if cfg.WindowSeconds > 0 {
			window = time.Duration(cfg.WindowSeconds) * time.Second
		}
		threshold = cfg.ErrorRateThreshold
	}
	return &AnomalyDetector{
		failures:  make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		threshold: threshold,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordFailure records a failed fetch against backend.
func (a *AnomalyDetector) RecordFailure(backend string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.failures, backend).add(a.now())
	if rate, n, ok := a.rateLocked(backend); ok && rate > a.threshold && a.logger != nil {
		a.logger.Warn("anomaly detected: high backend failure rate",
			slog.String("backend", backend),
			slog.Float64("failure_rate", rate),
			slog.Float64("threshold", a.threshold),
			slog.Int("samples", n),
		)
	}
}

// RecordSuccess records a successful fetch against backend.
func (a *AnomalyDetector) RecordSuccess(backend string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windowFor(a.successes, backend).add(a.now())
}

// Anomalous reports whether backend currently exceeds the threshold.
// False until enough samples exist in the window.
func (a *AnomalyDetector) Anomalous(backend string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rate, _, ok := a.rateLocked(backend)
	return ok && rate > a.threshold
}

// FailureRate returns the failure rate for backend within the window.
func (a *AnomalyDetector) FailureRate(backend string) float64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rate, _, _ := a.rateLocked(backend)
	return rate
}

// rateLocked must be called with a.mu held.
func (a *AnomalyDetector) rateLocked(backend string) (float64, int, bool) {
	now := a.now()
	failed := a.windowFor(a.failures, backend).count(now)
	total := failed + a.windowFor(a.successes, backend).count(now)
	if total == 0 {
		return 0, 0, false
	}
	rate := float64(failed) / float64(total)
	return rate, total, a.threshold > 0 && total >= minAnomalySamples
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(ts time.Time) {
	w.entries = append(w.entries, ts)
	w.prune(ts)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune drops entries older than the window.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
