package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Outcome describes one resolution attempt. It never carries values.
type Outcome struct {
	Backend   string
	Names     []string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Status classifies the outcome as "success", "invalid", "unavailable",
// "not_found" or "error". A joined error containing an unreachable
// backend is reported as unavailable.
func (o Outcome) Status() string {
	switch {
	case o.Err == nil:
		return "success"
	case errors.Is(o.Err, ErrInvalidRequest):
		return "invalid"
	case IsUnavailable(o.Err):
		return "unavailable"
	case IsNotFound(o.Err):
		return "not_found"
	default:
		return "error"
	}
}

// Recorder observes resolution outcomes (audit trail, metrics).
type Recorder interface {
	RecordResolution(ctx context.Context, o Outcome)
}

// Resolver turns a set of names into a CredentialBundle.
// Safe for concurrent use; it holds no per-call state.
type Resolver struct {
	logger     *slog.Logger
	recorders  []Recorder
	collectAll bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger. Default: discard.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder adds outcome recorders. Nil recorders are ignored.
func WithRecorder(recorders ...Recorder) ResolverOption {
	return func(r *Resolver) {
		for _, rec := range recorders {
			if rec != nil {
				r.recorders = append(r.recorders, rec)
			}
		}
	}
}

// WithCollectAll makes Resolve fetch every name and report all failures
// joined together instead of stopping at the first one.
func WithCollectAll() ResolverOption {
	return func(r *Resolver) { r.collectAll = true }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches every name from backend. Names must be non-empty and
// unique. On success the bundle holds exactly names; on failure no bundle
// is returned and the error identifies the missing or unreachable name.
func (r *Resolver) Resolve(ctx context.Context, names []string, backend Backend) (*CredentialBundle, error) {
	start := time.Now()
	bundle, err := r.resolve(ctx, names, backend)
	elapsed := time.Since(start)

	backendName := ""
	if backend != nil {
		backendName = backend.Name()
	}
	outcome := Outcome{
		Backend:   backendName,
		Names:     append([]string(nil), names...),
		Err:       err,
		StartedAt: start,
		Duration:  elapsed,
	}
	for _, rec := range r.recorders {
		rec.RecordResolution(ctx, outcome)
	}

	if err != nil {
		r.logger.WarnContext(ctx, "secret resolution failed",
			slog.String("backend", backendName),
			slog.Int("names", len(names)),
			slog.String("status", outcome.Status()),
			slog.String("error", err.Error()),
			slog.Duration("duration", elapsed),
		)
		return nil, err
	}
	r.logger.DebugContext(ctx, "secrets resolved",
		slog.String("backend", backendName),
		slog.Int("names", len(names)),
		slog.Duration("duration", elapsed),
	)
	return bundle, nil
}

func (r *Resolver) resolve(ctx context.Context, names []string, backend Backend) (*CredentialBundle, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: no backend", ErrInvalidRequest)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no secret names requested", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: name at index %d is empty", ErrInvalidRequest, i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidRequest, name)
		}
		seen[name] = struct{}{}
	}

	values := make(map[string]string, len(names))
	var errs []error
	for _, name := range names {
		v, err := backend.Fetch(ctx, name)
		if err != nil {
			if !r.collectAll {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		values[name] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return newBundle(backend.Name(), values), nil
}

// Resolve is a convenience wrapper around a default Resolver.
func Resolve(ctx context.Context, names []string, backend Backend) (*CredentialBundle, error) {
	return NewResolver().Resolve(ctx, names, backend)
}
