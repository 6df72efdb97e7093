// Package notification tells operators when a probe changes state.
// Messages carry probe names, statuses and error text; never secret values.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jkaninda/credresolve/internal/scheduler"
)

// Sender delivers a message through one channel.
type Sender interface {
	// Type returns the channel type ("webhook", "slack").
	Type() string
	Send(ctx context.Context, msg *Message) error
}

// Message is the payload sent to every channel.
type Message struct {
	Subject  string            // Short summary line.
	Body     string            // Plain text body.
	Metadata map[string]string // probe, status, previous_status, backend.
}

// Dispatcher fans a message out to all registered senders.
// Senders are fixed at construction, so no locking is needed.
type Dispatcher struct {
	senders []Sender
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. nil senders are skipped.
func NewDispatcher(logger *slog.Logger, senders ...Sender) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, s := range senders {
		if s != nil {
			d.senders = append(d.senders, s)
		}
	}
	return d
}

// Len returns the number of senders.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.senders)
}

// Notify sends msg through every sender. One failing channel does not stop
// the others; the returned error joins every failure.
func (d *Dispatcher) Notify(ctx context.Context, msg *Message) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, s := range d.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Type(), err))
			d.logger.WarnContext(ctx, "notification send failed",
				slog.String("type", s.Type()),
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.logger.InfoContext(ctx, "notification sent",
			slog.String("type", s.Type()),
			slog.String("subject", msg.Subject),
		)
	}
	return errors.Join(errs...)
}

// ProbeHook returns a scheduler hook that notifies on every probe transition.
// Delivery errors are logged by Notify and otherwise ignored.
func (d *Dispatcher) ProbeHook() scheduler.TransitionFunc {
	return func(ctx context.Context, prev, cur scheduler.Result) {
		_ = d.Notify(ctx, ProbeMessage(prev, cur))
	}
}

// ProbeMessage describes a probe transition.
func ProbeMessage(prev, cur scheduler.Result) *Message {
	state := "FAILING"
	if cur.Healthy() {
		state = "RECOVERED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Probe %q is now %s (was %s).\n", cur.Probe, cur.Status, prev.Status)
	fmt.Fprintf(&b, "Backend: %s\n", cur.Backend)
	fmt.Fprintf(&b, "Secrets: %s\n", strings.Join(cur.Names, ", "))
	if cur.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", cur.Error)
	}
	fmt.Fprintf(&b, "Failures so far: %d of %d runs", cur.Failures, cur.Runs)

	return &Message{
		Subject: fmt.Sprintf("[%s] credential probe %s", state, cur.Probe),
		Body:    b.String(),
		Metadata: map[string]string{
			"probe":           cur.Probe,
			"status":          cur.Status,
			"previous_status": prev.Status,
			"backend":         cur.Backend,
			"failures":        strconv.Itoa(cur.Failures),
		},
	}
}
