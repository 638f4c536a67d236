package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/id"
	"github.com/martingalian/stride/step"
)

// CreateStep persists a new step.
func (s *Store) CreateStep(ctx context.Context, st *step.Step) error {
	m := toStepModel(st)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return stride.ErrStepAlreadyExists
		}
		return fmt.Errorf("stride/bun: create step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID id.StepID) (*step.Step, error) {
	m := new(stepModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", stepID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stride.ErrStepNotFound
		}
		return nil, fmt.Errorf("stride/bun: get step: %w", err)
	}
	return fromStepModel(m)
}

// UpdateStep persists changes to an existing step.
func (s *Store) UpdateStep(ctx context.Context, st *step.Step) error {
	m := toStepModel(st)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("stride/bun: update step: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return stride.ErrStepNotFound
	}
	return nil
}

// TransitionStep atomically moves a step between states. The rows-affected
// count of a state-conditioned UPDATE is the compare-and-set: when another
// worker already moved the step, zero rows match and the claim fails
// without error.
func (s *Store) TransitionStep(ctx context.Context, stepID id.StepID, from, to step.State) (bool, error) {
	if !step.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", stride.ErrInvalidTransition, from, to)
	}

	res, err := s.db.NewUpdate().
		Model((*stepModel)(nil)).
		Set("state = ?", string(to)).
		Set("updated_at = NOW()").
		Where("id = ?", stepID.String()).
		Where("state = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stride/bun: transition step: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return true, nil
	}

	// Distinguish a lost race from a missing step.
	exists, err := s.db.NewSelect().
		Model((*stepModel)(nil)).
		Where("id = ?", stepID.String()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("stride/bun: transition check exists: %w", err)
	}
	if !exists {
		return false, stride.ErrStepNotFound
	}
	return false, nil
}

// ListBlockSteps returns every step sharing the block uuid, ordered by
// Index ascending.
func (s *Store) ListBlockSteps(ctx context.Context, block uuid.UUID) ([]*step.Step, error) {
	var models []stepModel
	err := s.db.NewSelect().Model(&models).
		Where("block_uuid = ?", block.String()).
		Order("block_index ASC", "created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: list block steps: %w", err)
	}
	return fromStepModels(models)
}

// ListGroupSteps returns the group's non-terminal steps, ordered by Index
// then DispatchAfter.
func (s *Store) ListGroupSteps(ctx context.Context, group string) ([]*step.Step, error) {
	var models []stepModel
	err := s.db.NewSelect().Model(&models).
		Where("group_name = ?", group).
		Where("state NOT IN (?)", bun.In(terminalStates)).
		Order("block_index ASC", "dispatch_after ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: list group steps: %w", err)
	}
	return fromStepModels(models)
}

// ActiveGroups returns the distinct groups with at least one non-terminal
// step.
func (s *Store) ActiveGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.db.NewSelect().
		Model((*stepModel)(nil)).
		ColumnExpr("DISTINCT group_name").
		Where("state NOT IN (?)", bun.In(terminalStates)).
		OrderExpr("group_name ASC").
		Scan(ctx, &groups)
	if err != nil {
		return nil, fmt.Errorf("stride/bun: active groups: %w", err)
	}
	return groups, nil
}

// CountSteps returns the number of steps matching the given options.
func (s *Store) CountSteps(ctx context.Context, opts step.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*stepModel)(nil))
	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("stride/bun: count steps: %w", err)
	}
	return int64(count), nil
}

func fromStepModels(models []stepModel) ([]*step.Step, error) {
	steps := make([]*step.Step, 0, len(models))
	for i := range models {
		st, err := fromStepModel(&models[i])
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}
