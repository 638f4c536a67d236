package store

import (
	"context"
	"errors"

	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/throttle"
)

// Layered composes per-concern backends into one Store. The production
// shape is Postgres for durable step records with Redis carrying the
// shared trigger queue and throttle state.
type Layered struct {
	step.Store
	dispatch.TriggerQueue
	throttle.StateStore

	closers []func() error
	pingers []func(context.Context) error
	migrate []func(context.Context) error
}

var _ Store = (*Layered)(nil)

// Layer combines the given backends. Each backend that also implements
// Migrate/Ping/Close participates in the corresponding aggregate call;
// a backend shared between concerns participates once.
func Layer(steps step.Store, triggers dispatch.TriggerQueue, state throttle.StateStore) *Layered {
	l := &Layered{
		Store:        steps,
		TriggerQueue: triggers,
		StateStore:   state,
	}

	seen := map[any]bool{}
	for _, backend := range []any{steps, triggers, state} {
		if backend == nil || seen[backend] {
			continue
		}
		seen[backend] = true

		if m, ok := backend.(interface {
			Migrate(context.Context) error
		}); ok {
			l.migrate = append(l.migrate, m.Migrate)
		}
		if p, ok := backend.(interface {
			Ping(context.Context) error
		}); ok {
			l.pingers = append(l.pingers, p.Ping)
		}
		if c, ok := backend.(interface{ Close() error }); ok {
			l.closers = append(l.closers, c.Close)
		}
	}
	return l
}

// Migrate runs migrations on every distinct backend that supports them.
func (l *Layered) Migrate(ctx context.Context) error {
	for _, fn := range l.migrate {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks connectivity on every distinct backend.
func (l *Layered) Ping(ctx context.Context) error {
	for _, fn := range l.pingers {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every distinct backend, returning the first error after
// attempting all of them.
func (l *Layered) Close() error {
	var errs []error
	for _, fn := range l.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
