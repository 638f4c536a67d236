package ext

import (
	"context"
	"time"

	"github.com/martingalian/stride/step"
)

// Extension is the base interface every extension implements. Extensions
// opt into lifecycle events by additionally implementing one or more of
// the hook interfaces below; the registry detects capabilities once at
// registration time.
type Extension interface {
	Name() string
}

// StepCreatedHook is invoked after a step row has been persisted.
type StepCreatedHook interface {
	OnStepCreated(ctx context.Context, s *step.Step)
}

// StepStartedHook is invoked when a worker begins executing a step.
type StepStartedHook interface {
	OnStepStarted(ctx context.Context, s *step.Step)
}

// StepCompletedHook is invoked after a step reaches a non-failing
// terminal state. elapsed is the wall-clock execution time.
type StepCompletedHook interface {
	OnStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration)
}

// StepRetryingHook is invoked when a step is re-queued for another
// attempt. attempt is the attempt number that just failed; nextAt is
// when the step becomes due again.
type StepRetryingHook interface {
	OnStepRetrying(ctx context.Context, s *step.Step, attempt int, nextAt time.Time)
}

// StepFailedHook is invoked when a step reaches the Failed state.
type StepFailedHook interface {
	OnStepFailed(ctx context.Context, s *step.Step, err error)
}

// StepEscalatedHook is invoked when a failure is handed to the
// operator notification channel.
type StepEscalatedHook interface {
	OnStepEscalated(ctx context.Context, s *step.Step, err error)
}

// ThrottleRefusedHook is invoked when the throttler refuses a request
// slot for an API system.
type ThrottleRefusedHook interface {
	OnThrottleRefused(ctx context.Context, apiSystem string)
}

// ShutdownHook is invoked once during engine shutdown, before stores
// close. Hooks should respect ctx cancellation.
type ShutdownHook interface {
	OnShutdown(ctx context.Context) error
}
