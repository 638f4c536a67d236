package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/martingalian/stride/job"
	"github.com/martingalian/stride/recovery"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/store/memory"
	"github.com/martingalian/stride/throttle"
)

type counters struct {
	compute   int
	doubleOK  []bool
	confirmOK []bool
}

// placeOrder is the happy-path job: compute returns a payload.
type placeOrder struct {
	c *counters
}

func (j *placeOrder) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return map[string]string{"order_id": "81422"}, nil
}

// flaky fails compute but declares the error transient.
type flaky struct{ c *counters }

func (j *flaky) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return nil, errors.New("http 503")
}
func (j *flaky) RetryException(err error) bool { return true }

// skipping opts out before compute.
type skipping struct{ c *counters }

func (j *skipping) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return nil, nil
}
func (j *skipping) ShouldSkip(ctx context.Context) (bool, error) { return true, nil }

// stopping aborts the workflow before compute.
type stopping struct{ c *counters }

func (j *stopping) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return nil, nil
}
func (j *stopping) ShouldStop(ctx context.Context) (bool, error) { return true, nil }

// doubleChecked replays scripted double-check results.
type doubleChecked struct{ c *counters }

func (j *doubleChecked) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return "filled", nil
}

func (j *doubleChecked) DoubleCheck(ctx context.Context) (bool, error) {
	if len(j.c.doubleOK) == 0 {
		return true, nil
	}
	next := j.c.doubleOK[0]
	j.c.doubleOK = j.c.doubleOK[1:]
	return next, nil
}

// confirmed replays scripted confirm-or-retry results.
type confirmed struct{ c *counters }

func (j *confirmed) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return "submitted", nil
}

func (j *confirmed) ConfirmOrRetry(ctx context.Context) (bool, error) {
	if len(j.c.confirmOK) == 0 {
		return true, nil
	}
	next := j.c.confirmOK[0]
	j.c.confirmOK = j.c.confirmOK[1:]
	return next, nil
}

// apiBound names an API system so the throttle gate applies.
type apiBound struct{ c *counters }

func (j *apiBound) Compute(ctx context.Context) (any, error) {
	j.c.compute++
	return nil, nil
}
func (j *apiBound) APISystem() string { return "binance-futures" }

type refusingGate struct{}

func (refusingGate) Decide(ctx context.Context, apiSystem string) (throttle.Decision, error) {
	return throttle.Refuse(30 * time.Second), nil
}

func harness(t *testing.T, register func(*job.Registry, *counters), opts ...Option) (*memory.Store, *Controller, *counters) {
	t.Helper()
	store := memory.New()
	c := &counters{}
	reg := job.NewRegistry()
	register(reg, c)

	logger := slog.New(slog.DiscardHandler)
	classifier := recovery.NewClassifier(store, recovery.WithLogger(logger))
	base := []Option{WithLogger(logger)}
	ctl := New(store, reg, classifier, append(base, opts...)...)
	return store, ctl, c
}

// deliver persists the step (first call) or re-claims it, then runs one
// lifecycle pass, returning the stored step afterwards.
func deliver(t *testing.T, store *memory.Store, ctl *Controller, s *step.Step) *step.Step {
	t.Helper()
	ctx := context.Background()

	if _, err := store.GetStep(ctx, s.ID); err != nil {
		if err := store.CreateStep(ctx, s); err != nil {
			t.Fatalf("CreateStep: %v", err)
		}
	}
	fresh, err := store.GetStep(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	won, err := store.TransitionStep(ctx, fresh.ID, step.StatePending, step.StateDispatched)
	if err != nil || !won {
		t.Fatalf("claim step: won=%v err=%v", won, err)
	}
	fresh.State = step.StateDispatched

	if err := ctl.Run(ctx, fresh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after, err := store.GetStep(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetStep after run: %v", err)
	}
	return after
}

func TestHappyPathCompletes(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &placeOrder{c: c}, nil
		})
	})

	got := deliver(t, store, ctl, step.New("orders.place", nil))
	if got.State != step.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if c.compute != 1 {
		t.Errorf("compute calls = %d, want 1", c.compute)
	}
	var resp map[string]string
	if err := json.Unmarshal(got.Response, &resp); err != nil || resp["order_id"] != "81422" {
		t.Errorf("response = %s (%v)", got.Response, err)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not recorded")
	}
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &placeOrder{c: c}, nil
		})
	})

	ctx := context.Background()
	s := step.New("orders.place", nil)
	if err := store.CreateStep(ctx, s); err != nil {
		t.Fatalf("CreateStep: %v", err)
	}
	// Another worker already moved it through Dispatched into Running.
	if _, err := store.TransitionStep(ctx, s.ID, step.StatePending, step.StateDispatched); err != nil {
		t.Fatal(err)
	}
	if _, err := store.TransitionStep(ctx, s.ID, step.StateDispatched, step.StateRunning); err != nil {
		t.Fatal(err)
	}

	stale := *s
	stale.State = step.StateDispatched
	if err := ctl.Run(ctx, &stale); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.compute != 0 {
		t.Errorf("compute calls = %d, duplicate delivery must be side-effect free", c.compute)
	}
	got, _ := store.GetStep(ctx, s.ID)
	if got.State != step.StateRunning {
		t.Errorf("state = %s, want running untouched", got.State)
	}
}

func TestSkipPredicateShortCircuitsCompute(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &skipping{c: c}, nil
		})
	})

	got := deliver(t, store, ctl, step.New("orders.place", nil))
	if got.State != step.StateSkipped {
		t.Errorf("state = %s, want skipped", got.State)
	}
	if c.compute != 0 {
		t.Errorf("compute calls = %d, want 0", c.compute)
	}
}

func TestStopPredicateStops(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &stopping{c: c}, nil
		})
	})

	got := deliver(t, store, ctl, step.New("orders.place", nil))
	if got.State != step.StateStopped {
		t.Errorf("state = %s, want stopped", got.State)
	}
	if c.compute != 0 {
		t.Errorf("compute calls = %d, want 0", c.compute)
	}
}

func TestTransientErrorRequeuesThenFailsAtCeiling(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &flaky{c: c}, nil
		})
	})

	s := step.New("orders.place", nil, step.WithMaxRetries(3))
	got := deliver(t, store, ctl, s)
	if got.State != step.StatePending || got.Retries != 1 {
		t.Fatalf("after first attempt: state=%s retries=%d", got.State, got.Retries)
	}
	if !got.DispatchAfter.After(time.Now().Add(-time.Second)) {
		t.Error("dispatch_after not pushed forward")
	}

	got.DispatchAfter = time.Now() // make it due again
	if err := store.UpdateStep(context.Background(), got); err != nil {
		t.Fatal(err)
	}
	got = deliver(t, store, ctl, got)
	if got.State != step.StatePending || got.Retries != 2 {
		t.Fatalf("after second attempt: state=%s retries=%d", got.State, got.Retries)
	}

	// Third attempt hits the ceiling and fails through the shortcut.
	got = deliver(t, store, ctl, got)
	if got.State != step.StateFailed {
		t.Errorf("state = %s, want failed at ceiling", got.State)
	}
	if c.compute != 3 {
		t.Errorf("compute calls = %d, want 3", c.compute)
	}
	if got.ErrorMessage == "" {
		t.Error("error not persisted")
	}
}

func TestDoubleCheckPassesOnThirdTry(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		c.doubleOK = []bool{false, false, true}
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &doubleChecked{c: c}, nil
		})
	})

	s := step.New("orders.place", nil)
	got := deliver(t, store, ctl, s)
	if got.State != step.StatePending || got.DoubleCheck != 1 {
		t.Fatalf("pass 1: state=%s double_check=%d", got.State, got.DoubleCheck)
	}
	got = deliver(t, store, ctl, got)
	if got.State != step.StatePending || got.DoubleCheck != 2 {
		t.Fatalf("pass 2: state=%s double_check=%d", got.State, got.DoubleCheck)
	}
	got = deliver(t, store, ctl, got)
	if got.State != step.StateCompleted {
		t.Errorf("pass 3: state = %s, want completed", got.State)
	}
	if got.DoubleCheck != step.DoubleCheckPassed {
		t.Errorf("double_check = %d, want %d sentinel", got.DoubleCheck, step.DoubleCheckPassed)
	}
	if c.compute != 1 {
		t.Errorf("compute calls = %d, double-check passes must reuse the result", c.compute)
	}
}

func TestDoubleCheckExhaustionFails(t *testing.T) {
	store, ctl, _ := harness(t, func(r *job.Registry, c *counters) {
		c.doubleOK = []bool{false, false, false}
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &doubleChecked{c: c}, nil
		})
	})

	got := deliver(t, store, ctl, step.New("orders.place", nil))
	got = deliver(t, store, ctl, got)
	got = deliver(t, store, ctl, got)
	if got.State != step.StateFailed {
		t.Errorf("state = %s, want failed after exhausting double-checks", got.State)
	}
}

func TestConfirmOrRetryFlipsMode(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		c.confirmOK = []bool{false, true}
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &confirmed{c: c}, nil
		})
	})

	got := deliver(t, store, ctl, step.New("orders.place", nil))
	if got.State != step.StatePending {
		t.Fatalf("state = %s, want pending", got.State)
	}
	if got.ExecMode != step.ExecModeConfirming {
		t.Fatalf("exec_mode = %s, want confirming", got.ExecMode)
	}

	got = deliver(t, store, ctl, got)
	if got.State != step.StateCompleted {
		t.Errorf("state = %s, want completed after confirmation", got.State)
	}
	if c.compute != 1 {
		t.Errorf("compute calls = %d, confirming pass must not recompute", c.compute)
	}
}

func TestThrottleRefusalRequeues(t *testing.T) {
	store, ctl, c := harness(t, func(r *job.Registry, c *counters) {
		r.Register("orders.place", func(s *step.Step) (job.Job, error) {
			return &apiBound{c: c}, nil
		})
	}, WithThrottle(refusingGate{}))

	got := deliver(t, store, ctl, step.New("orders.place", nil))
	if got.State != step.StatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.Retries != 0 {
		t.Errorf("retries = %d, throttling must not count as an attempt", got.Retries)
	}
	if c.compute != 0 {
		t.Errorf("compute calls = %d, want 0", c.compute)
	}
	if !got.DispatchAfter.After(time.Now().Add(20*time.Second)) {
		t.Errorf("dispatch_after = %v, want pushed out by the refusal hint", got.DispatchAfter)
	}
}

func TestUnknownClassFails(t *testing.T) {
	store, ctl, _ := harness(t, func(r *job.Registry, c *counters) {})

	got := deliver(t, store, ctl, step.New("orders.unknown", nil))
	if got.State != step.StateFailed {
		t.Errorf("state = %s, want failed for unknown class", got.State)
	}
	if got.ErrorMessage == "" {
		t.Error("error not persisted")
	}
}
