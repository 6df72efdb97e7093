// Package scheduler runs credential resolution probes on cron schedules.
// Each probe resolves a fixed set of names against the configured backend
// and keeps only the outcome; resolved bundles are dropped immediately.
//
// Core invariant: a probe result never holds a secret value.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/credresolve/internal/secrets"
)

// Probe is a named, scheduled resolution.
type Probe struct {
	Name     string
	Schedule string   // Cron spec or descriptor ("@every 5m").
	Names    []string // Secret names to resolve.
}

// Result is the latest outcome of a probe.
type Result struct {
	Probe      string    `json:"probe"`
	Schedule   string    `json:"schedule"`
	Backend    string    `json:"backend"`
	Names      []string  `json:"names"`
	Status     string    `json:"status"` // "pending" until the first run.
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
	Runs       int       `json:"runs"`
	Failures   int       `json:"failures"`
}

// Healthy reports whether the probe has run and its last run succeeded.
func (r Result) Healthy() bool { return r.Status == "success" }

// ErrUnknownProbe is returned by RunProbe for an unregistered name.
var ErrUnknownProbe = errors.New("unknown probe")

// RecorderFactory returns the recorder for runs of the named probe.
type RecorderFactory func(probe string) secrets.Recorder

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records probe metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithResolverOptions applies opts to every probe resolver.
func WithResolverOptions(opts ...secrets.ResolverOption) Option {
	return func(s *Scheduler) { s.resolverOpts = append(s.resolverOpts, opts...) }
}

// WithRecorderFactory adds a per-probe recorder, e.g. an audit trail
// tagged with the probe name.
func WithRecorderFactory(f RecorderFactory) Option {
	return func(s *Scheduler) { s.recorderFor = f }
}

// TransitionFunc is called after a run whose status differs from the
// previous one. A first run that succeeds is not a transition.
type TransitionFunc func(ctx context.Context, prev, cur Result)

// WithTransitionHook registers fn for status changes, e.g. to notify operators.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(s *Scheduler) { s.onTransition = append(s.onTransition, fn) }
}

// WithJob schedules an extra maintenance job such as audit pruning.
func WithJob(name, schedule string, fn func(ctx context.Context)) Option {
	return func(s *Scheduler) {
		s.jobs = append(s.jobs, job{name: name, schedule: schedule, fn: fn})
	}
}

type job struct {
	name     string
	schedule string
	fn       func(ctx context.Context)
}

// Scheduler owns the cron runner and the latest result of every probe.
type Scheduler struct {
	backend      secrets.Backend
	probes       map[string]Probe
	order        []string
	jobs         []job
	resolverOpts []secrets.ResolverOption
	recorderFor  RecorderFactory
	onTransition []TransitionFunc
	metrics      *Metrics
	logger       *slog.Logger
	parser       cron.Parser

	mu      sync.RWMutex
	results map[string]Result
	cron    *cron.Cron
	entries map[string]cron.EntryID

	firstPass chan struct{} // closed once every probe has run after Start.
}

// New validates probes and creates a Scheduler. Nothing runs until Start.
func New(backend secrets.Backend, probes []Probe, opts ...Option) (*Scheduler, error) {
	if backend == nil {
		return nil, fmt.Errorf("scheduler requires a backend")
	}
	s := &Scheduler{
		backend:   backend,
		probes:    make(map[string]Probe, len(probes)),
		logger:    slog.Default(),
		parser:    newParser(),
		results:   make(map[string]Result, len(probes)),
		entries:   make(map[string]cron.EntryID),
		firstPass: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, p := range probes {
		if p.Name == "" {
			return nil, fmt.Errorf("probe name is required")
		}
		if _, dup := s.probes[p.Name]; dup {
			return nil, fmt.Errorf("duplicate probe %q", p.Name)
		}
		if len(p.Names) == 0 {
			return nil, fmt.Errorf("probe %q has no secret names", p.Name)
		}
		if _, err := s.parser.Parse(p.Schedule); err != nil {
			return nil, fmt.Errorf("probe %q: invalid schedule %q: %w", p.Name, p.Schedule, err)
		}
		p.Names = append([]string(nil), p.Names...)
		s.probes[p.Name] = p
		s.order = append(s.order, p.Name)
		s.results[p.Name] = Result{
			Probe:    p.Name,
			Schedule: p.Schedule,
			Backend:  backend.Name(),
			Names:    p.Names,
			Status:   "pending",
		}
	}
	sort.Strings(s.order)

	for _, j := range s.jobs {
		if _, err := s.parser.Parse(j.schedule); err != nil {
			return nil, fmt.Errorf("job %q: invalid schedule %q: %w", j.name, j.schedule, err)
		}
	}
	return s, nil
}

// Start schedules every probe and runs each once in the background without
// waiting for its first tick. Returns a stop function that waits for
// running probes to finish.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)

	for _, name := range s.order {
		name := name
		id, err := c.AddFunc(s.probes[name].Schedule, func() { s.run(ctx, name) })
		if err != nil {
			// Schedules were validated in New.
			s.logger.Error("failed to schedule probe", slog.String("probe", name), slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.entries[name] = id
		s.mu.Unlock()
	}
	for _, j := range s.jobs {
		j := j
		if _, err := c.AddFunc(j.schedule, func() { j.fn(ctx) }); err != nil {
			s.logger.Error("failed to schedule job", slog.String("job", j.name), slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "probe scheduler started",
		slog.Int("probes", len(s.order)),
		slog.Int("jobs", len(s.jobs)),
		slog.String("backend", s.backend.Name()),
	)

	c.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(s.firstPass)
		for _, name := range s.order {
			if ctx.Err() != nil {
				return
			}
			s.run(ctx, name)
		}
	}()

	return func() {
		cancel()
		wg.Wait()
		<-c.Stop().Done()
		s.logger.Info("probe scheduler stopped")
	}
}

// FirstPass is closed once the initial run started by Start has finished
// or was cancelled.
func (s *Scheduler) FirstPass() <-chan struct{} {
	return s.firstPass
}

// RunProbe runs the named probe immediately and returns its result.
func (s *Scheduler) RunProbe(ctx context.Context, name string) (Result, error) {
	if _, ok := s.probes[name]; !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProbe, name)
	}
	return s.run(ctx, name), nil
}

func (s *Scheduler) run(ctx context.Context, name string) Result {
	p := s.probes[name]

	opts := append([]secrets.ResolverOption{secrets.WithLogger(s.logger)}, s.resolverOpts...)
	if s.recorderFor != nil {
		opts = append(opts, secrets.WithRecorder(s.recorderFor(name)))
	}
	resolver := secrets.NewResolver(opts...)

	start := time.Now()
	_, err := resolver.Resolve(ctx, p.Names, s.backend)
	elapsed := time.Since(start)

	outcome := secrets.Outcome{Backend: s.backend.Name(), Names: p.Names, Err: err}
	status := outcome.Status()

	s.mu.Lock()
	res := s.results[name]
	prev := res
	prev.Names = append([]string(nil), res.Names...)
	res.Status = status
	res.Error = ""
	if err != nil {
		res.Error = err.Error()
		res.Failures++
	}
	res.DurationMS = elapsed.Milliseconds()
	res.LastRun = start.UTC()
	res.Runs++
	if s.cron != nil {
		if id, ok := s.entries[name]; ok {
			res.NextRun = s.cron.Entry(id).Next
		}
	}
	s.results[name] = res
	s.mu.Unlock()

	s.metrics.observe(name, status, elapsed)

	if isTransition(prev.Status, status) {
		for _, fn := range s.onTransition {
			fn(ctx, prev, res)
		}
	}

	if err != nil {
		s.logger.WarnContext(ctx, "probe failed",
			slog.String("probe", name),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.DebugContext(ctx, "probe succeeded",
			slog.String("probe", name),
			slog.Duration("duration", elapsed),
		)
	}
	return res
}

func isTransition(prev, cur string) bool {
	if prev == cur {
		return false
	}
	return !(prev == "pending" && cur == "success")
}

// Results returns the latest result of every probe, sorted by name.
func (s *Scheduler) Results() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.copyResult(name))
	}
	return out
}

// Result returns the latest result of the named probe.
func (s *Scheduler) Result(name string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.results[name]; !ok {
		return Result{}, false
	}
	return s.copyResult(name), true
}

// copyResult must be called with s.mu held.
func (s *Scheduler) copyResult(name string) Result {
	r := s.results[name]
	r.Names = append([]string(nil), r.Names...)
	return r
}

// Ready returns an error naming every probe whose last run failed.
// Probes that have not run yet do not count against readiness.
func (s *Scheduler) Ready(_ context.Context) error {
	var errs []error
	for _, r := range s.Results() {
		if r.Status == "pending" || r.Healthy() {
			continue
		}
		errs = append(errs, fmt.Errorf("probe %q: %s", r.Probe, r.Status))
	}
	return errors.Join(errs...)
}

// ValidateSchedule reports whether spec is a schedule New would accept.
func ValidateSchedule(spec string) error {
	if _, err := newParser().Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// cronLogger adapts *slog.Logger to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
