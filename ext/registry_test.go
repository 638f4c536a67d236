package ext

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/martingalian/stride/step"
)

type recorder struct {
	name      string
	created   atomic.Int64
	completed atomic.Int64
	retrying  atomic.Int64
	shutdowns atomic.Int64
	lastErr   error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnStepCreated(ctx context.Context, s *step.Step) {
	r.created.Add(1)
}

func (r *recorder) OnStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration) {
	r.completed.Add(1)
}

func (r *recorder) OnStepRetrying(ctx context.Context, s *step.Step, attempt int, nextAt time.Time) {
	r.retrying.Add(1)
}

func (r *recorder) OnShutdown(ctx context.Context) error {
	r.shutdowns.Add(1)
	return r.lastErr
}

type panicky struct{}

func (panicky) Name() string                                  { return "panicky" }
func (panicky) OnStepCreated(context.Context, *step.Step)     { panic("boom") }
func (panicky) OnStepFailed(context.Context, *step.Step, error) {
	panic("boom")
}

func TestRegistryDispatchesToCapableHooks(t *testing.T) {
	reg := NewRegistry(nil)
	rec := &recorder{name: "rec"}
	reg.Register(rec)

	s := step.New("orders.place", nil)

	ctx := context.Background()
	reg.EmitStepCreated(ctx, s)
	reg.EmitStepCreated(ctx, s)
	reg.EmitStepCompleted(ctx, s, 5*time.Millisecond)
	reg.EmitStepRetrying(ctx, s, 1, time.Now())
	// recorder does not implement StepFailedHook; must be a no-op.
	reg.EmitStepFailed(ctx, s, errors.New("nope"))

	if got := rec.created.Load(); got != 2 {
		t.Errorf("created hooks = %d, want 2", got)
	}
	if got := rec.completed.Load(); got != 1 {
		t.Errorf("completed hooks = %d, want 1", got)
	}
	if got := rec.retrying.Load(); got != 1 {
		t.Errorf("retrying hooks = %d, want 1", got)
	}
}

func TestRegistryIgnoresDuplicateNames(t *testing.T) {
	reg := NewRegistry(nil)
	a := &recorder{name: "same"}
	b := &recorder{name: "same"}
	reg.Register(a)
	reg.Register(b)

	s := step.New("orders.place", nil)
	reg.EmitStepCreated(context.Background(), s)

	if got := a.created.Load(); got != 1 {
		t.Errorf("first registration hooks = %d, want 1", got)
	}
	if got := b.created.Load(); got != 0 {
		t.Errorf("duplicate registration hooks = %d, want 0", got)
	}
}

func TestRegistryIsolatesPanics(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(panicky{})
	rec := &recorder{name: "rec"}
	reg.Register(rec)

	s := step.New("orders.place", nil)

	// panicky runs first; the panic must not stop dispatch.
	reg.EmitStepCreated(context.Background(), s)
	if got := rec.created.Load(); got != 1 {
		t.Errorf("created hooks after panic = %d, want 1", got)
	}
}

func TestRegistryShutdownRunsAllHooks(t *testing.T) {
	reg := NewRegistry(nil)
	a := &recorder{name: "a", lastErr: errors.New("close failed")}
	b := &recorder{name: "b"}
	reg.Register(a)
	reg.Register(b)

	reg.EmitShutdown(context.Background())

	if got := a.shutdowns.Load(); got != 1 {
		t.Errorf("a shutdowns = %d, want 1", got)
	}
	if got := b.shutdowns.Load(); got != 1 {
		t.Errorf("b shutdowns = %d, want 1 (error from a must not stop b)", got)
	}
}
