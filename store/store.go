// Package store defines the aggregate persistence interface. Each
// subsystem (steps, dispatch triggers, throttle state) defines its own
// store interface; the composite Store composes them all. Backends:
// Memory (tests, single process), Redis (shared trigger queue and
// throttle state), and Bun/Postgres (durable step records).
package store

import (
	"context"

	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/throttle"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores; the engine type-asserts the
// capabilities it needs.
type Store interface {
	step.Store
	dispatch.TriggerQueue
	throttle.StateStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
