package step

import (
	"context"

	"github.com/google/uuid"

	"github.com/martingalian/stride/id"
)

// CountOpts controls filtering for step count queries.
type CountOpts struct {
	// Group filters by group. Empty means all groups.
	Group string
	// State filters by step state. Empty means all states.
	State State
}

// Store defines the persistence contract for steps. Implementations must
// be safe for concurrent use by multiple worker processes.
type Store interface {
	// CreateStep persists a new step.
	CreateStep(ctx context.Context, s *Step) error

	// GetStep retrieves a step by ID.
	GetStep(ctx context.Context, stepID id.StepID) (*Step, error)

	// UpdateStep persists changes to an existing step.
	UpdateStep(ctx context.Context, s *Step) error

	// TransitionStep atomically moves a step from one state to another.
	// It returns false (with no error) when the step is not currently in
	// the expected from state — the optimistic precondition that backs
	// the duplicate-run guard.
	TransitionStep(ctx context.Context, stepID id.StepID, from, to State) (bool, error)

	// ListBlockSteps returns every step sharing the block uuid, ordered
	// by Index ascending.
	ListBlockSteps(ctx context.Context, block uuid.UUID) ([]*Step, error)

	// ListGroupSteps returns the group's non-terminal steps, ordered by
	// Index then DispatchAfter.
	ListGroupSteps(ctx context.Context, group string) ([]*Step, error)

	// ActiveGroups returns the distinct groups with at least one
	// non-terminal step.
	ActiveGroups(ctx context.Context) ([]string, error)

	// CountSteps returns the number of steps matching the options.
	CountSteps(ctx context.Context, opts CountOpts) (int64, error)
}
