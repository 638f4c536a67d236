// Package dispatch decides which steps of a group are eligible to run
// and coordinates trigger fan-out across worker processes. Ordering
// inside a workflow block is enforced here: a block's next index only
// becomes eligible once every step at the previous index reached a
// non-failing terminal state.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/martingalian/stride/step"
)

// Executor runs a single dispatched step to a stable outcome. The
// lifecycle controller satisfies this.
type Executor interface {
	Run(ctx context.Context, s *step.Step) error
}

// Failer forces a terminal outcome on a step whose execution escaped
// the executor entirely, such as a panic raised outside its middleware
// chain. The recovery classifier satisfies this.
type Failer interface {
	FailForce(ctx context.Context, s *step.Step, cause error) error
}

// Runner performs one dispatch pass over a group: it walks each block's
// frontier, activates compensating steps for failed blocks, orphans
// steps of aborted blocks, and executes everything eligible.
type Runner struct {
	store  step.Store
	exec   Executor
	failer Failer
	logger *slog.Logger
	now    func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerClock overrides the time source, for tests.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithRunnerFailer installs the last-resort handler applied to steps
// whose execution panicked outside the executor's own recovery. Without
// one, such steps are only logged and stay non-terminal.
func WithRunnerFailer(f Failer) RunnerOption {
	return func(r *Runner) { r.failer = f }
}

// NewRunner builds a dispatch runner.
func NewRunner(store step.Store, exec Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:  store,
		exec:   exec,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DispatchGroup runs one dispatch pass for the group. It returns true
// when at least one step executed, so callers can tune their idle sleep.
// Steps sharing an index run concurrently; the pass blocks until every
// dispatched step reaches a stable outcome.
func (r *Runner) DispatchGroup(ctx context.Context, group string) (bool, error) {
	open, err := r.store.ListGroupSteps(ctx, group)
	if err != nil {
		return false, err
	}
	if len(open) == 0 {
		return false, nil
	}

	seen := make(map[uuid.UUID]bool)
	var ready []*step.Step
	for _, s := range open {
		if s.BlockUUID == uuid.Nil {
			// Standalone step: no ordering to enforce.
			if s.State == step.StatePending && s.Due(r.now()) {
				ready = append(ready, s)
			}
			continue
		}
		if seen[s.BlockUUID] {
			continue
		}
		seen[s.BlockUUID] = true

		blockSteps, err := r.store.ListBlockSteps(ctx, s.BlockUUID)
		if err != nil {
			return false, err
		}
		eligible, err := r.blockFrontier(ctx, blockSteps)
		if err != nil {
			return false, err
		}
		ready = append(ready, eligible...)
	}

	if len(ready) == 0 {
		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range ready {
		g.Go(func() error {
			won, err := r.store.TransitionStep(gctx, s.ID, step.StatePending, step.StateDispatched)
			if err != nil {
				return err
			}
			if !won {
				// Another coordinator pass claimed it first.
				return nil
			}
			s.State = step.StateDispatched
			return r.runStep(gctx, s)
		})
	}
	return true, g.Wait()
}

// runStep executes one claimed step, forcing a terminal outcome when a
// panic escapes the executor so the step cannot stall its block in a
// non-terminal state.
func (r *Runner) runStep(ctx context.Context, s *step.Step) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		cause := fmt.Errorf("step execution panicked: %v", rec)
		r.logger.Error("step execution escaped the executor",
			slog.String("step_id", s.ID.String()),
			slog.String("class", s.Class),
			slog.Any("panic", rec),
			slog.String("stack", string(debug.Stack())),
		)
		if r.failer == nil {
			return
		}
		if ferr := r.failer.FailForce(ctx, s, cause); ferr != nil {
			r.logger.Error("forced failure did not persist",
				slog.String("step_id", s.ID.String()),
				slog.String("error", ferr.Error()),
			)
		}
	}()
	return r.exec.Run(ctx, s)
}

// blockFrontier returns the block's currently eligible steps.
// blockSteps must be the complete block, ordered by index ascending.
func (r *Runner) blockFrontier(ctx context.Context, blockSteps []*step.Step) ([]*step.Step, error) {
	var (
		resolve *step.Step
		normal  []*step.Step
		failed  *step.Step
		aborted bool
	)
	for _, s := range blockSteps {
		if s.Type == step.TypeResolveException {
			if resolve == nil {
				resolve = s
			}
			continue
		}
		switch s.State {
		case step.StateFailed:
			if failed == nil {
				failed = s
			}
		case step.StateStopped, step.StateCancelled:
			aborted = true
		}
		normal = append(normal, s)
	}

	if failed != nil {
		// Orphan what has not run yet, then fire the compensating step
		// if the block declares one. The Pending->Dispatched CAS in the
		// caller guarantees it fires at most once.
		if err := r.orphan(ctx, normal); err != nil {
			return nil, err
		}
		if resolve != nil && resolve.State == step.StatePending && resolve.Due(r.now()) {
			if err := r.armResolve(ctx, resolve, failed); err != nil {
				return nil, err
			}
			return []*step.Step{resolve}, nil
		}
		return nil, nil
	}

	if aborted {
		var all []*step.Step
		all = append(all, normal...)
		if resolve != nil {
			all = append(all, resolve)
		}
		return nil, r.orphan(ctx, all)
	}

	// Walk index tiers ascending; the frontier is the first tier not yet
	// fully settled non-failing.
	for i := 0; i < len(normal); {
		idx := normal[i].Index
		tierDone := true
		var tier []*step.Step
		for ; i < len(normal) && normal[i].Index == idx; i++ {
			if !step.NonFailing(normal[i].State) {
				tierDone = false
			}
			tier = append(tier, normal[i])
		}
		if tierDone {
			continue
		}

		var eligible []*step.Step
		for _, s := range tier {
			if s.State == step.StatePending && s.Due(r.now()) {
				eligible = append(eligible, s)
			}
		}
		return eligible, nil
	}

	// Every principal tier settled non-failing. The compensator can
	// never fire now; retire it so the group stops reporting open work.
	if resolve != nil && resolve.State == step.StatePending {
		if err := r.orphan(ctx, []*step.Step{resolve}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// armResolve records which principal step failed in the compensating
// step's arguments, under a "failure" key, so the resolution job can
// inspect the cause. Arguments that are not a JSON object are left
// untouched.
func (r *Runner) armResolve(ctx context.Context, resolve, failed *step.Step) error {
	args := map[string]json.RawMessage{}
	if len(resolve.Arguments) > 0 {
		if err := json.Unmarshal(resolve.Arguments, &args); err != nil {
			r.logger.Warn("compensating step arguments are not an object, skipping failure context",
				slog.String("step_id", resolve.ID.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
	}
	if _, done := args["failure"]; done {
		return nil
	}

	fc, err := json.Marshal(map[string]string{
		"step_id": failed.ID.String(),
		"class":   failed.Class,
		"error":   failed.ErrorMessage,
	})
	if err != nil {
		return err
	}
	args["failure"] = fc

	merged, err := json.Marshal(args)
	if err != nil {
		return err
	}
	resolve.Arguments = merged
	resolve.Touch()
	return r.store.UpdateStep(ctx, resolve)
}

// orphan marks the pending steps NotRunnable so they never execute.
func (r *Runner) orphan(ctx context.Context, steps []*step.Step) error {
	for _, s := range steps {
		if s.State != step.StatePending {
			continue
		}
		won, err := r.store.TransitionStep(ctx, s.ID, step.StatePending, step.StateNotRunnable)
		if err != nil {
			return err
		}
		if won {
			s.State = step.StateNotRunnable
			r.logger.Info("step orphaned",
				"step_id", s.ID.String(), "class", s.Class, "block", s.BlockUUID)
		}
	}
	return nil
}
