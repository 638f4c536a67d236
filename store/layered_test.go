package store

import (
	"context"
	"errors"
	"testing"

	"github.com/martingalian/stride/store/memory"
)

// countingBackend wraps the memory store and counts lifecycle calls so
// the dedup behaviour of Layer is observable.
type countingBackend struct {
	*memory.Store
	migrations int
	pings      int
	closes     int
	closeErr   error
}

func (c *countingBackend) Migrate(ctx context.Context) error {
	c.migrations++
	return nil
}

func (c *countingBackend) Ping(ctx context.Context) error {
	c.pings++
	return nil
}

func (c *countingBackend) Close() error {
	c.closes++
	return c.closeErr
}

func TestLayerSharedBackendParticipatesOnce(t *testing.T) {
	shared := &countingBackend{Store: memory.New()}
	l := Layer(shared, shared, shared)

	ctx := context.Background()
	if err := l.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := l.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if shared.migrations != 1 || shared.pings != 1 || shared.closes != 1 {
		t.Errorf("lifecycle calls = %d/%d/%d, want 1/1/1",
			shared.migrations, shared.pings, shared.closes)
	}
}

func TestLayerDistinctBackends(t *testing.T) {
	steps := &countingBackend{Store: memory.New()}
	shared := &countingBackend{Store: memory.New()}
	l := Layer(steps, shared, shared)

	if err := l.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if steps.migrations != 1 || shared.migrations != 1 {
		t.Errorf("migrations = %d/%d, want 1/1", steps.migrations, shared.migrations)
	}
}

func TestLayerCloseAttemptsAllBackends(t *testing.T) {
	steps := &countingBackend{Store: memory.New(), closeErr: errors.New("pg down")}
	shared := &countingBackend{Store: memory.New()}
	l := Layer(steps, shared, shared)

	if err := l.Close(); err == nil {
		t.Fatal("Close: expected error")
	}
	if steps.closes != 1 || shared.closes != 1 {
		t.Errorf("closes = %d/%d, want 1/1 (all backends closed despite error)",
			steps.closes, shared.closes)
	}
}

func TestLayerNilStateStore(t *testing.T) {
	steps := &countingBackend{Store: memory.New()}
	l := Layer(steps, steps, nil)

	if l.StateStore != nil {
		t.Error("StateStore must stay nil when no throttle backend is layered")
	}
	if err := l.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
