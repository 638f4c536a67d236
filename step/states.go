package step

import (
	"fmt"

	"github.com/martingalian/stride"
)

// State is the lifecycle state of a step.
type State string

const (
	// StatePending means the step is waiting to be dispatched (including
	// retry re-arms and confirming-completion re-arms).
	StatePending State = "pending"
	// StateDispatched means a dispatch pass claimed the step for execution.
	StateDispatched State = "dispatched"
	// StateRunning means a worker is currently executing the step.
	StateRunning State = "running"
	// StateCompleted means the step finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the step failed and will not run again.
	StateFailed State = "failed"
	// StateSkipped means a pre-execution predicate decided the work is
	// unnecessary; treated as success for block ordering.
	StateSkipped State = "skipped"
	// StateStopped means the step (and its workflow) was aborted.
	StateStopped State = "stopped"
	// StateCancelled means an operator or upstream failure cancelled the
	// step before it ran.
	StateCancelled State = "cancelled"
	// StateNotRunnable marks steps that must never execute, e.g. orphaned
	// by a failed or cancelled block.
	StateNotRunnable State = "not_runnable"
)

// transitions is the central table of legal state changes. Terminal states
// have no outgoing rows; leaving one requires explicit operator action
// outside the engine.
var transitions = map[State][]State{
	StatePending:    {StateDispatched, StateRunning, StateCancelled, StateStopped, StateNotRunnable},
	StateDispatched: {StateRunning, StatePending, StateCancelled, StateStopped},
	StateRunning:    {StateCompleted, StateFailed, StateSkipped, StateStopped, StateCancelled, StatePending},
}

// Terminal reports whether the engine will never act on the step again.
func Terminal(s State) bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped, StateStopped, StateCancelled, StateNotRunnable:
		return true
	default:
		return false
	}
}

// NonFailing reports whether the state is a successful terminal outcome.
// Block ordering requires every lower-index step to reach a non-failing
// terminal state before higher indices become eligible.
func NonFailing(s State) bool {
	return s == StateCompleted || s == StateSkipped
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the step to the given state after validating the
// transition against the central table. Timestamps are the caller's
// responsibility; this only guards legality and updates UpdatedAt.
func (s *Step) TransitionTo(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s → %s (step %s)", stride.ErrInvalidTransition, s.State, to, s.ID)
	}
	s.State = to
	s.Touch()
	return nil
}
