// Package notify carries failures that exhausted automated recovery to
// a human operator. The engine escalates exactly once per terminal
// failure; notifiers decide the channel.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/martingalian/stride/step"
)

// Notifier receives failures that automated recovery could not absorb.
type Notifier interface {
	Escalate(ctx context.Context, s *step.Step, err error) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, s *step.Step, err error) error

func (f Func) Escalate(ctx context.Context, s *step.Step, err error) error {
	return f(ctx, s, err)
}

// Logger escalates by emitting a structured error log. It is the
// default notifier when no external channel is configured.
type Logger struct {
	logger *slog.Logger
}

// NewLogger returns a log-backed notifier. logger may be nil.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) Escalate(ctx context.Context, s *step.Step, err error) error {
	attrs := []any{
		"step_id", s.ID.String(),
		"class", s.Class,
		"group", s.Group,
		"retries", s.Retries,
		"error", err,
	}
	if s.Relatable != nil {
		attrs = append(attrs, "relatable", s.Relatable.String())
	}
	l.logger.ErrorContext(ctx, "step escalated to operator", attrs...)
	return nil
}

// silentError marks an error as already reported through another
// channel so escalation can skip duplicate alerts.
type silentError struct {
	err error
}

func (s *silentError) Error() string { return s.err.Error() }
func (s *silentError) Unwrap() error { return s.err }

// Silent wraps err so notifiers treat it as already surfaced.
func Silent(err error) error {
	if err == nil {
		return nil
	}
	return &silentError{err: err}
}

// IsSilent reports whether err was marked with Silent.
func IsSilent(err error) bool {
	var s *silentError
	return errors.As(err, &s)
}

// Multi fans escalation out to several notifiers. The first error is
// returned after all notifiers ran.
type Multi []Notifier

func (m Multi) Escalate(ctx context.Context, s *step.Step, err error) error {
	var first error
	for _, n := range m {
		if e := n.Escalate(ctx, s, err); e != nil && first == nil {
			first = e
		}
	}
	return first
}
