// Package lifecycle drives a single step attempt through its execution
// contract: duplicate-run guard, confirmation mode, pre-execution
// predicates, compute, double-check, confirm-or-retry, and finalization.
// Every exception raised along the way is handed to the recovery
// classifier instead of propagating.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/ext"
	"github.com/martingalian/stride/job"
	"github.com/martingalian/stride/middleware"
	"github.com/martingalian/stride/recovery"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/throttle"
)

// waitInline is the longest throttle wait served by blocking the worker.
// Anything longer re-queues the step with a future dispatch time so the
// worker is released.
const waitInline = time.Second

// Controller executes one step attempt end to end.
type Controller struct {
	store      step.Store
	registry   *job.Registry
	classifier *recovery.Classifier
	chain      middleware.Middleware
	exts       *ext.Registry
	gate       throttle.Gate
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithMiddleware installs the middleware chain wrapped around execution.
func WithMiddleware(m middleware.Middleware) Option {
	return func(c *Controller) { c.chain = m }
}

// WithExtensions installs the extension registry for lifecycle events.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Controller) { c.exts = r }
}

// WithThrottle installs the rate-limit gate consulted before compute for
// jobs that name an API system.
func WithThrottle(g throttle.Gate) Option {
	return func(c *Controller) { c.gate = g }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleeper overrides inline throttle waits, for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// New builds a controller over the step store, job registry, and
// recovery classifier.
func New(store step.Store, registry *job.Registry, classifier *recovery.Classifier, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		registry:   registry,
		classifier: classifier,
		chain:      middleware.Chain(),
		exts:       ext.NewRegistry(nil),
		logger:     slog.Default(),
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one attempt of the step. The returned error reports
// engine-level problems (store failures, context cancellation); domain
// failures are absorbed by the classifier and recorded on the step.
func (c *Controller) Run(ctx context.Context, s *step.Step) error {
	// Duplicate delivery guard: only one worker wins the transition to
	// Running. The loser logs and exits without side effects.
	won, err := c.store.TransitionStep(ctx, s.ID, s.State, step.StateRunning)
	if err != nil {
		return fmt.Errorf("transition %s to running: %w", s.ID, err)
	}
	if !won {
		c.logger.Warn("duplicate delivery refused",
			"step_id", s.ID.String(), "class", s.Class, "state", s.State)
		return nil
	}

	s.State = step.StateRunning
	started := c.now()
	s.StartedAt = &started
	s.Touch()
	if err := c.store.UpdateStep(ctx, s); err != nil {
		return fmt.Errorf("persist running step %s: %w", s.ID, err)
	}
	c.exts.EmitStepStarted(ctx, s)

	j, reg, err := c.registry.Build(s)
	if err != nil {
		// Unknown class: nothing can run this, fail through the
		// classifier's default path.
		return c.classifier.Classify(ctx, s, unknownJob{}, err)
	}

	execErr := c.chain(ctx, s, func(ctx context.Context) error {
		return c.execute(ctx, s, j, reg)
	})
	if execErr != nil {
		return c.classifier.Classify(ctx, s, j, execErr)
	}
	return nil
}

// execute walks the step contract. A nil return means the attempt
// reached a stable outcome (terminal state or re-arm); any error is a
// classification case.
func (c *Controller) execute(ctx context.Context, s *step.Step, j job.Job, reg job.Registration) error {
	if s.ExecMode == step.ExecModeConfirming {
		return c.confirm(ctx, s, j, reg)
	}

	done, err := c.predicates(ctx, s, j, reg)
	if err != nil || done {
		return err
	}

	if s.Retries >= s.MaxRetries {
		return stride.ErrMaxRetriesReached
	}

	if done, err := c.throttled(ctx, s, j); err != nil || done {
		return err
	}

	// Compute exactly once per attempt; a double-check cycle already in
	// progress reuses the stored response.
	if !s.DoubleChecking() {
		result, err := j.Compute(ctx)
		if err != nil {
			return err
		}
		if len(s.Response) == 0 && result != nil {
			payload, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("marshal response: %w", err)
			}
			s.Response = payload
		}
	}

	if done, err := c.doubleCheck(ctx, s, j, reg); err != nil || done {
		return err
	}

	if cf, ok := j.(job.Confirmer); ok {
		confirmed, err := cf.ConfirmOrRetry(ctx)
		if err != nil {
			return err
		}
		if !confirmed {
			s.ExecMode = step.ExecModeConfirming
			return c.rearm(ctx, s, reg.Opts.RetryDelay, false)
		}
	}

	return c.finalize(ctx, s, j)
}

// confirm runs only the job's confirmation check, re-arming on failure.
func (c *Controller) confirm(ctx context.Context, s *step.Step, j job.Job, reg job.Registration) error {
	cf, ok := j.(job.Confirmer)
	if !ok {
		// Mode requires a hook the job does not define; nothing can
		// ever confirm this step.
		return fmt.Errorf("step %s in confirming mode but job %s has no confirmation hook", s.ID, s.Class)
	}

	confirmed, err := cf.ConfirmOrRetry(ctx)
	if err != nil {
		return err
	}
	if confirmed {
		return c.finalize(ctx, s, j)
	}

	if s.Retries+1 >= s.MaxRetries {
		return stride.ErrMaxRetriesReached
	}
	return c.rearm(ctx, s, reg.Opts.RetryDelay, true)
}

// predicates evaluates the optional stop/fail/skip/retry hooks in fixed
// order. done=true means the attempt ended here.
func (c *Controller) predicates(ctx context.Context, s *step.Step, j job.Job, reg job.Registration) (bool, error) {
	if st, ok := j.(job.Stopper); ok {
		stop, err := st.ShouldStop(ctx)
		if err != nil {
			return false, err
		}
		if stop {
			return true, c.settle(ctx, s, step.StateStopped)
		}
	}
	if f, ok := j.(job.Failer); ok {
		fail, err := f.ShouldFail(ctx)
		if err != nil {
			return false, err
		}
		if fail {
			return false, fmt.Errorf("job %s requested failure", s.Class)
		}
	}
	if sk, ok := j.(job.Skipper); ok {
		skip, err := sk.ShouldSkip(ctx)
		if err != nil {
			return false, err
		}
		if skip {
			return true, c.settle(ctx, s, step.StateSkipped)
		}
	}
	if r, ok := j.(job.Retrier); ok {
		retry, err := r.ShouldRetry(ctx)
		if err != nil {
			return false, err
		}
		if retry {
			if s.Retries+1 >= s.MaxRetries {
				return false, stride.ErrMaxRetriesReached
			}
			return true, c.rearm(ctx, s, reg.Opts.RetryDelay, true)
		}
	}
	return false, nil
}

// throttled consults the rate-limit gate for API-bound jobs. Short
// waits block inline; long waits and refusals re-queue the step so the
// worker is released.
func (c *Controller) throttled(ctx context.Context, s *step.Step, j job.Job) (bool, error) {
	as, ok := j.(job.APISystemer)
	if !ok || c.gate == nil {
		return false, nil
	}

	d, err := c.gate.Decide(ctx, as.APISystem())
	if err != nil {
		return false, err
	}

	switch d.Action {
	case throttle.ActionProceed:
		return false, nil
	case throttle.ActionWait:
		if d.Delay <= waitInline {
			if err := c.sleep(ctx, d.Delay); err != nil {
				return false, err
			}
			return false, nil
		}
		c.logger.Info("throttle wait, re-queueing step",
			"step_id", s.ID.String(), "api_system", as.APISystem(), "delay", d.Delay)
		return true, c.rearm(ctx, s, d.Delay, false)
	default: // refuse
		delay := d.Delay
		if delay <= 0 {
			delay = waitInline
		}
		c.logger.Warn("throttle refused, re-queueing step",
			"step_id", s.ID.String(), "api_system", as.APISystem(), "delay", delay)
		c.exts.EmitThrottleRefused(ctx, as.APISystem())
		return true, c.rearm(ctx, s, delay, false)
	}
}

// doubleCheck re-validates the job's result, allowing up to
// step.MaxDoubleChecks extra passes before giving up.
func (c *Controller) doubleCheck(ctx context.Context, s *step.Step, j job.Job, reg job.Registration) (bool, error) {
	dc, ok := j.(job.DoubleChecker)
	if !ok || s.DoubleCheck == step.DoubleCheckPassed {
		return false, nil
	}

	verified, err := dc.DoubleCheck(ctx)
	if err != nil {
		return false, err
	}
	if !verified {
		if s.DoubleCheck >= step.MaxDoubleChecks {
			return false, stride.ErrMaxRetriesReached
		}
		s.DoubleCheck++
		return true, c.rearm(ctx, s, reg.Opts.RetryDelay, false)
	}

	s.DoubleCheck = step.DoubleCheckPassed
	return false, nil
}

// finalize records duration, runs the complete hook, and defaults the
// step to Completed unless the hook already settled it.
func (c *Controller) finalize(ctx context.Context, s *step.Step, j job.Job) error {
	if cp, ok := j.(job.Completer); ok {
		if err := cp.Complete(ctx); err != nil {
			return err
		}
	}

	if !step.Terminal(s.State) {
		if err := c.settle(ctx, s, step.StateCompleted); err != nil {
			return err
		}
	} else {
		now := c.now()
		s.CompletedAt = &now
		if s.StartedAt != nil {
			s.Duration = now.Sub(*s.StartedAt)
		}
		s.Touch()
		if err := c.store.UpdateStep(ctx, s); err != nil {
			return err
		}
	}

	if step.NonFailing(s.State) {
		c.exts.EmitStepCompleted(ctx, s, s.Duration)
	}
	return nil
}

// settle moves the step into a terminal state and persists it.
func (c *Controller) settle(ctx context.Context, s *step.Step, to step.State) error {
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

// rearm re-enters Pending with a future dispatch time, optionally
// counting the pass as an attempt.
func (c *Controller) rearm(ctx context.Context, s *step.Step, delay time.Duration, countAttempt bool) error {
	if countAttempt {
		s.Retries++
	}
	s.DispatchAfter = c.now().Add(delay)
	if err := s.TransitionTo(step.StatePending); err != nil {
		return err
	}
	s.Touch()
	if err := c.store.UpdateStep(ctx, s); err != nil {
		return err
	}
	if countAttempt {
		c.exts.EmitStepRetrying(ctx, s, s.Retries, s.DispatchAfter)
	}
	return nil
}

// unknownJob stands in when a step names a class the registry does not
// know. It never runs; classification fails the step.
type unknownJob struct{}

func (unknownJob) Compute(ctx context.Context) (any, error) {
	return nil, errors.New("unknown job class")
}
