// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and single-process
// development; the throttle state it holds is per-process and therefore
// not suitable for fleets sharing an exchange IP.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/id"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/throttle"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ step.Store            = (*Store)(nil)
	_ dispatch.TriggerQueue = (*Store)(nil)
	_ throttle.StateStore   = (*Store)(nil)
)

type usageKey struct {
	apiSystem string
	limitType string
	interval  time.Duration
}

// Store is an in-memory implementation of the composite store.
type Store struct {
	mu sync.RWMutex

	steps map[string]*step.Step

	// triggers is a FIFO of group names; queued deduplicates pushes.
	triggers []string
	queued   map[string]struct{}
	arrival  chan struct{}

	lastRequest map[string]time.Time
	usage       map[usageKey]throttle.Sample
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		steps:       make(map[string]*step.Step),
		queued:      make(map[string]struct{}),
		arrival:     make(chan struct{}, 1),
		lastRequest: make(map[string]time.Time),
		usage:       make(map[usageKey]throttle.Sample),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Step Store
// ──────────────────────────────────────────────────

// CreateStep persists a new step.
func (m *Store) CreateStep(_ context.Context, s *step.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, exists := m.steps[key]; exists {
		return stride.ErrStepAlreadyExists
	}
	cp := *s
	m.steps[key] = &cp
	return nil
}

// GetStep retrieves a step by ID.
func (m *Store) GetStep(_ context.Context, stepID id.StepID) (*step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.steps[stepID.String()]
	if !ok {
		return nil, stride.ErrStepNotFound
	}
	cp := *s
	return &cp, nil
}

// UpdateStep persists changes to an existing step.
func (m *Store) UpdateStep(_ context.Context, s *step.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, ok := m.steps[key]; !ok {
		return stride.ErrStepNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	m.steps[key] = &cp
	return nil
}

// TransitionStep atomically moves a step between states. The from state
// is the optimistic precondition backing the duplicate-run guard.
func (m *Store) TransitionStep(_ context.Context, stepID id.StepID, from, to step.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.steps[stepID.String()]
	if !ok {
		return false, stride.ErrStepNotFound
	}
	if s.State != from {
		return false, nil
	}
	if !step.CanTransition(from, to) {
		return false, stride.ErrInvalidTransition
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListBlockSteps returns every step sharing the block uuid, ordered by
// index ascending.
func (m *Store) ListBlockSteps(_ context.Context, block uuid.UUID) ([]*step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*step.Step
	for _, s := range m.steps {
		if s.BlockUUID != block {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].Index != result[k].Index {
			return result[i].Index < result[k].Index
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListGroupSteps returns the group's non-terminal steps, ordered by
// index then dispatch time.
func (m *Store) ListGroupSteps(_ context.Context, group string) ([]*step.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*step.Step
	for _, s := range m.steps {
		if s.Group != group || step.Terminal(s.State) {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].Index != result[k].Index {
			return result[i].Index < result[k].Index
		}
		return result[i].DispatchAfter.Before(result[k].DispatchAfter)
	})
	return result, nil
}

// ActiveGroups returns distinct groups with at least one non-terminal step.
func (m *Store) ActiveGroups(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, s := range m.steps {
		if !step.Terminal(s.State) {
			set[s.Group] = struct{}{}
		}
	}
	groups := make([]string, 0, len(set))
	for g := range set {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// CountSteps returns the number of steps matching the options.
func (m *Store) CountSteps(_ context.Context, opts step.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, s := range m.steps {
		if opts.Group != "" && s.Group != opts.Group {
			continue
		}
		if opts.State != "" && s.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Trigger Queue
// ──────────────────────────────────────────────────

// PushTrigger enqueues a dispatch trigger for the group. A group already
// queued is not queued twice.
func (m *Store) PushTrigger(_ context.Context, group string) error {
	m.mu.Lock()
	if _, dup := m.queued[group]; dup {
		m.mu.Unlock()
		return nil
	}
	m.queued[group] = struct{}{}
	m.triggers = append(m.triggers, group)
	m.mu.Unlock()

	select {
	case m.arrival <- struct{}{}:
	default:
	}
	return nil
}

// PopTrigger blocks up to timeout for the next trigger, returning an
// empty string when none arrives.
func (m *Store) PopTrigger(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if len(m.triggers) > 0 {
			group := m.triggers[0]
			m.triggers = m.triggers[1:]
			delete(m.queued, group)
			m.mu.Unlock()
			return group, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", nil
		case <-m.arrival:
		}
	}
}

// ──────────────────────────────────────────────────
// Throttle State
// ──────────────────────────────────────────────────

// LastRequest returns when the last request for the API system was sent.
func (m *Store) LastRequest(_ context.Context, apiSystem string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequest[apiSystem], nil
}

// TouchRequest records that a request is being sent now.
func (m *Store) TouchRequest(_ context.Context, apiSystem string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRequest[apiSystem] = at
	return nil
}

// Usage returns the most recently observed counter for the key.
func (m *Store) Usage(_ context.Context, apiSystem, limitType string, interval time.Duration) (throttle.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[usageKey{apiSystem, limitType, interval}], nil
}

// SetUsage stores an exchange-reported counter for the key.
func (m *Store) SetUsage(_ context.Context, apiSystem, limitType string, interval time.Duration, value int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[usageKey{apiSystem, limitType, interval}] = throttle.Sample{Value: value, At: at, OK: true}
	return nil
}
