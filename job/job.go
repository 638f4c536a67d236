package job

import (
	"context"
	"time"

	"github.com/martingalian/stride/step"
)

// Job is the unit-of-work contract. Compute is invoked exactly once per
// attempt; its result is serialized and stored on the step if the step has
// no stored response yet.
type Job interface {
	Compute(ctx context.Context) (any, error)
}

// Pre-execution predicates, evaluated by the controller in fixed order:
// stop, fail, skip, retry. Each is optional; a job type opts in by
// implementing the interface.

// Stopper aborts the workflow before compute runs.
type Stopper interface {
	ShouldStop(ctx context.Context) (bool, error)
}

// Failer raises a non-retryable failure before compute runs.
type Failer interface {
	ShouldFail(ctx context.Context) (bool, error)
}

// Skipper marks the step Skipped before compute runs.
type Skipper interface {
	ShouldSkip(ctx context.Context) (bool, error)
}

// Retrier re-arms the step with backoff before compute runs.
type Retrier interface {
	ShouldRetry(ctx context.Context) (bool, error)
}

// DoubleChecker re-validates the job's own result before trusting it,
// e.g. confirming a side effect the exchange may not expose immediately.
// A false return re-arms the step for another pass (at most
// step.MaxDoubleChecks extra passes); true proceeds to finalization.
type DoubleChecker interface {
	DoubleCheck(ctx context.Context) (bool, error)
}

// Confirmer gates finalization. A false return flips the step into
// confirming-completion mode and re-arms it instead of completing.
type Confirmer interface {
	ConfirmOrRetry(ctx context.Context) (bool, error)
}

// Completer runs after a successful pass, before the default Completed
// transition. It may itself finalize the step to Skipped or Stopped by
// mutating the step record it was constructed with.
type Completer interface {
	Complete(ctx context.Context) error
}

// RetryClassifier lets a job declare an error transient.
type RetryClassifier interface {
	RetryException(err error) bool
}

// IgnoreClassifier lets a job declare an error harmless; the step
// finalizes to Completed.
type IgnoreClassifier interface {
	IgnoreException(err error) bool
}

// Resolver runs compensating logic when classification lands on the
// default failure path or a shortcut signal. If the hook finalizes the
// step (mutates it to a terminal state), the classifier does not fail it.
type Resolver interface {
	ResolveException(ctx context.Context, err error) error
}

// Relater exposes the weak domain-entity reference for log correlation.
type Relater interface {
	Relatable() *step.Ref
}

// APISystemer names the exchange API system this job calls, selecting the
// throttle policy and the API exception handler.
type APISystemer interface {
	APISystem() string
}

// RetryDelayer overrides the fixed per-job retry delay used for job- and
// API-classified transient errors.
type RetryDelayer interface {
	RetryDelay() time.Duration
}
