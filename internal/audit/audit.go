// Package audit persists a record of every credential resolution.
// Only names, outcomes and timings are stored; secret values never reach
// this package. All GORM usage is confined here.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/credresolve/internal/secrets"
)

// Event is one resolution attempt.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Trigger    string    `json:"trigger"` // "cli", "probe:<name>", ...
	Backend    string    `json:"backend"`
	Names      []string  `json:"names"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	Backend string
	Status  string
	Limit   int // Default: 100.
}

// EventFromOutcome converts a resolver outcome into an audit event.
func EventFromOutcome(trigger string, o secrets.Outcome) Event {
	ev := Event{
		ID:         uuid.New(),
		Trigger:    trigger,
		Backend:    o.Backend,
		Names:      append([]string(nil), o.Names...),
		Status:     o.Status(),
		DurationMS: o.Duration.Milliseconds(),
		CreatedAt:  o.StartedAt.UTC(),
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	return ev
}

// Recorder appends resolver outcomes to a Repository. It implements
// secrets.Recorder; storage failures are logged and never fail the
// resolution itself.
type Recorder struct {
	repo    *Repository
	trigger string
	logger  *slog.Logger
}

// NewRecorder creates a Recorder tagging events with trigger.
func NewRecorder(repo *Repository, trigger string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, trigger: trigger, logger: logger}
}

// RecordResolution implements secrets.Recorder.
func (r *Recorder) RecordResolution(ctx context.Context, o secrets.Outcome) {
	if r == nil || r.repo == nil {
		return
	}
	ev := EventFromOutcome(r.trigger, o)
	if err := r.repo.Append(ctx, ev); err != nil {
		r.logger.Error("failed to append audit event",
			slog.String("trigger", r.trigger),
			slog.String("backend", ev.Backend),
			slog.String("error", err.Error()),
		)
	}
}

var _ secrets.Recorder = (*Recorder)(nil)
