// Package recovery classifies exceptions raised during step execution
// and applies the matching recovery action: immediate failure, backoff
// retry, silent completion, or compensated failure with operator
// escalation.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/backoff"
	"github.com/martingalian/stride/exchangeapi"
	"github.com/martingalian/stride/ext"
	"github.com/martingalian/stride/job"
	"github.com/martingalian/stride/notify"
	"github.com/martingalian/stride/step"
)

// Classifier routes execution errors through the recovery decision
// order: shortcut signals, permanent infrastructure errors, retryable
// errors, ignorable errors, then the default failure path.
type Classifier struct {
	store     step.Store
	infra     InfraClassifier
	handlers  *exchangeapi.Registry
	notifier  notify.Notifier
	resolvers *step.Resolvers
	exts      *ext.Registry
	transient backoff.Strategy
	logger    *slog.Logger
	now       func() time.Time
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithInfra replaces the infrastructure error classifier.
func WithInfra(ic InfraClassifier) ClassifierOption {
	return func(c *Classifier) { c.infra = ic }
}

// WithHandlers installs the API-system exception handler registry.
func WithHandlers(r *exchangeapi.Registry) ClassifierOption {
	return func(c *Classifier) { c.handlers = r }
}

// WithNotifier replaces the operator escalation channel.
func WithNotifier(n notify.Notifier) ClassifierOption {
	return func(c *Classifier) { c.notifier = n }
}

// WithResolvers installs the relatable-reference resolver registry used
// for correlated log entries.
func WithResolvers(r *step.Resolvers) ClassifierOption {
	return func(c *Classifier) { c.resolvers = r }
}

// WithExtensions installs the extension registry for lifecycle events.
func WithExtensions(r *ext.Registry) ClassifierOption {
	return func(c *Classifier) { c.exts = r }
}

// WithTransientBackoff replaces the attempt-keyed backoff applied to
// infrastructure-classified transient errors.
func WithTransientBackoff(s backoff.Strategy) ClassifierOption {
	return func(c *Classifier) { c.transient = s }
}

// WithLogger sets the classifier logger.
func WithLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) { c.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier builds a classifier over the given step store.
func NewClassifier(store step.Store, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		store:     store,
		infra:     DefaultInfra{},
		handlers:  exchangeapi.NewRegistry(),
		notifier:  notify.NewLogger(nil),
		resolvers: step.NewResolvers(),
		exts:      ext.NewRegistry(nil),
		transient: backoff.DefaultTransient(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify applies the recovery decision order to execErr, mutating and
// persisting the step. The returned error reports persistence problems
// only; the execution error itself never propagates past this point.
func (c *Classifier) Classify(ctx context.Context, s *step.Step, j job.Job, execErr error) error {
	switch {
	case stride.Shortcut(execErr):
		return c.resolveOrFail(ctx, s, j, execErr)
	case c.infra.Permanent(execErr):
		c.logger.Error("permanent infrastructure error",
			"step_id", s.ID.String(), "class", s.Class, "error", execErr)
		return c.fail(ctx, s, execErr)
	}

	// Forbidden API errors (revoked keys, missing permissions) can never
	// succeed on retry, whatever the job's own retry rules say.
	if h := c.handler(j); h != nil && h.IsForbidden(execErr) {
		c.logger.Error("forbidden api error",
			"step_id", s.ID.String(), "class", s.Class, "error", execErr)
		return c.fail(ctx, s, execErr)
	}

	// Retry rules win over ignore rules when an error matches both.
	if delay, ok := c.retryable(s, j, execErr); ok {
		return c.requeue(ctx, s, j, execErr, delay)
	}
	if c.ignorable(j, execErr) {
		c.logger.Info("ignorable exception, completing step",
			"step_id", s.ID.String(), "class", s.Class, "error", execErr)
		return c.finalize(ctx, s, step.StateCompleted)
	}

	return c.defaultPath(ctx, s, j, execErr)
}

// retryable reports whether execErr warrants another attempt and the
// delay before it. Infrastructure-transient errors back off by attempt
// count; job- and API-classified transients use the fixed per-job delay.
func (c *Classifier) retryable(s *step.Step, j job.Job, execErr error) (time.Duration, bool) {
	if c.infra.Transient(execErr) {
		return c.transient.Delay(s.Retries + 1), true
	}
	if rc, ok := j.(job.RetryClassifier); ok && rc.RetryException(execErr) {
		return c.fixedDelay(j), true
	}
	if h := c.handler(j); h != nil && h.RetryException(execErr) {
		return c.fixedDelay(j), true
	}
	return 0, false
}

func (c *Classifier) ignorable(j job.Job, execErr error) bool {
	if ic, ok := j.(job.IgnoreClassifier); ok && ic.IgnoreException(execErr) {
		return true
	}
	if h := c.handler(j); h != nil && h.IgnoreException(execErr) {
		return true
	}
	return c.infra.Duplicate(execErr)
}

// defaultPath persists the error, appends a correlated log entry, and
// attempts the job's resolution hook before failing the step.
func (c *Classifier) defaultPath(ctx context.Context, s *step.Step, j job.Job, execErr error) error {
	s.RecordError(execErr.Error(), "")

	if s.Relatable != nil {
		c.logger.Error("step exception on related entity",
			"step_id", s.ID.String(),
			"class", s.Class,
			"relatable", c.resolvers.Describe(ctx, s.Relatable),
			"error", execErr,
		)
	}

	return c.resolveOrFail(ctx, s, j, execErr)
}

// resolveOrFail attempts the resolution hook; if the hook did not
// itself finalize the step, the step fails.
func (c *Classifier) resolveOrFail(ctx context.Context, s *step.Step, j job.Job, cause error) error {
	if r, ok := j.(job.Resolver); ok {
		if err := r.ResolveException(ctx, cause); err != nil {
			c.logger.Error("resolution hook failed",
				"step_id", s.ID.String(), "class", s.Class, "error", err)
		}
	} else if h := c.handler(j); h != nil {
		if err := h.ResolveException(ctx, s, cause); err != nil {
			c.logger.Error("api resolution hook failed",
				"step_id", s.ID.String(), "class", s.Class, "error", err)
		}
	}

	if step.Terminal(s.State) {
		s.Touch()
		return c.store.UpdateStep(ctx, s)
	}
	return c.fail(ctx, s, cause)
}

// FailForce fails a step outside the normal classification path. It is
// the last resort for executions that escaped the controller entirely,
// such as a panic caught at the worker boundary: no resolution hook
// runs, the error is persisted and operators are notified.
func (c *Classifier) FailForce(ctx context.Context, s *step.Step, cause error) error {
	c.logger.Error("forcing step failure",
		"step_id", s.ID.String(), "class", s.Class, "error", cause)

	// A step that never reached Running steps through it so the
	// terminal edge stays legal.
	if s.State == step.StateDispatched {
		if err := s.TransitionTo(step.StateRunning); err != nil {
			return err
		}
	}
	return c.fail(ctx, s, cause)
}

// fail moves the step to Failed, persisting the error and escalating to
// operators. A step already in a terminal state is left untouched.
func (c *Classifier) fail(ctx context.Context, s *step.Step, cause error) error {
	if step.Terminal(s.State) {
		return nil
	}

	s.RecordError(cause.Error(), "")
	if !notify.IsSilent(cause) {
		if err := c.notifier.Escalate(ctx, s, cause); err != nil {
			c.logger.Error("operator escalation failed",
				"step_id", s.ID.String(), "error", err)
		}
		c.exts.EmitStepEscalated(ctx, s, cause)
	}

	if err := c.finalize(ctx, s, step.StateFailed); err != nil {
		return err
	}
	c.exts.EmitStepFailed(ctx, s, cause)
	return nil
}

// requeue re-arms the step with a future dispatch time. When the retry
// ceiling is hit the max-retries shortcut takes over instead.
func (c *Classifier) requeue(ctx context.Context, s *step.Step, j job.Job, cause error, delay time.Duration) error {
	if s.Retries+1 >= s.MaxRetries {
		return c.resolveOrFail(ctx, s, j, stride.ErrMaxRetriesReached)
	}

	s.Retries++
	nextAt := c.now().Add(delay)
	s.DispatchAfter = nextAt
	if err := s.TransitionTo(step.StatePending); err != nil {
		return err
	}
	s.Touch()
	if err := c.store.UpdateStep(ctx, s); err != nil {
		return err
	}

	c.logger.Warn("step re-queued after transient exception",
		"step_id", s.ID.String(),
		"class", s.Class,
		"attempt", s.Retries,
		"next_at", nextAt,
		"error", cause,
	)
	c.exts.EmitStepRetrying(ctx, s, s.Retries, nextAt)
	return nil
}

// finalize stamps completion bookkeeping and persists the terminal state.
func (c *Classifier) finalize(ctx context.Context, s *step.Step, to step.State) error {
	if err := s.TransitionTo(to); err != nil {
		return err
	}
	now := c.now()
	s.CompletedAt = &now
	if s.StartedAt != nil {
		s.Duration = now.Sub(*s.StartedAt)
	}
	s.Touch()
	return c.store.UpdateStep(ctx, s)
}

func (c *Classifier) handler(j job.Job) exchangeapi.Handler {
	as, ok := j.(job.APISystemer)
	if !ok {
		return nil
	}
	return c.handlers.Get(as.APISystem())
}

func (c *Classifier) fixedDelay(j job.Job) time.Duration {
	if rd, ok := j.(job.RetryDelayer); ok {
		return rd.RetryDelay()
	}
	return backoff.DefaultAPIDelay
}
