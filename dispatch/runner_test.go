package dispatch_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/notify"
	"github.com/martingalian/stride/recovery"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/store/memory"
)

// markingExec settles every delivered step immediately: classes listed
// in fail end up Failed, everything else Completed. It records the
// order of delivery.
type markingExec struct {
	store *memory.Store
	fail  map[string]bool

	mu  sync.Mutex
	ran []string
}

func (e *markingExec) Run(ctx context.Context, s *step.Step) error {
	e.mu.Lock()
	e.ran = append(e.ran, s.Class)
	e.mu.Unlock()

	if _, err := e.store.TransitionStep(ctx, s.ID, step.StateDispatched, step.StateRunning); err != nil {
		return err
	}
	to := step.StateCompleted
	if e.fail[s.Class] {
		to = step.StateFailed
	}
	if _, err := e.store.TransitionStep(ctx, s.ID, step.StateRunning, to); err != nil {
		return err
	}
	return nil
}

func (e *markingExec) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ran...)
}

func testRunner(store *memory.Store, exec dispatch.Executor) *dispatch.Runner {
	return dispatch.NewRunner(store, exec,
		dispatch.WithRunnerLogger(slog.New(slog.DiscardHandler)))
}

func seedBlock(t *testing.T, store *memory.Store, specs []struct {
	class string
	index int
	typ   step.Type
}) []*step.Step {
	t.Helper()
	ctx := context.Background()
	block := uuid.New()

	var steps []*step.Step
	for _, spec := range specs {
		opts := []step.Option{
			step.WithGroup("btc"),
			step.WithBlock(block),
			step.WithIndex(spec.index),
		}
		if spec.typ != "" {
			opts = append(opts, step.WithType(spec.typ))
		}
		s := step.New(spec.class, nil, opts...)
		if err := store.CreateStep(ctx, s); err != nil {
			t.Fatalf("CreateStep: %v", err)
		}
		steps = append(steps, s)
	}
	return steps
}

func drain(t *testing.T, r *dispatch.Runner, group string) {
	t.Helper()
	ctx := context.Background()
	for range 20 {
		busy, err := r.DispatchGroup(ctx, group)
		if err != nil {
			t.Fatalf("DispatchGroup: %v", err)
		}
		if !busy {
			return
		}
	}
	t.Fatal("group never drained")
}

func TestBlockRunsIndexTiersInOrder(t *testing.T) {
	store := memory.New()
	exec := &markingExec{store: store}
	r := testRunner(store, exec)

	seedBlock(t, store, []struct {
		class string
		index int
		typ   step.Type
	}{
		{"margin.reserve", 1, ""},
		{"orders.buy", 2, ""},
		{"orders.sell", 2, ""},
		{"position.verify", 3, ""},
	})

	// First pass only dispatches index 1.
	busy, err := r.DispatchGroup(context.Background(), "btc")
	if err != nil || !busy {
		t.Fatalf("pass 1: busy=%v err=%v", busy, err)
	}
	if got := exec.order(); len(got) != 1 || got[0] != "margin.reserve" {
		t.Fatalf("pass 1 ran %v, want only margin.reserve", got)
	}

	drain(t, r, "btc")

	got := exec.order()
	if len(got) != 4 {
		t.Fatalf("ran %v, want 4 steps", got)
	}
	if got[0] != "margin.reserve" || got[3] != "position.verify" {
		t.Errorf("order = %v, want index tiers ascending", got)
	}
	// Index-2 steps ran together in some order between the tiers.
	mid := map[string]bool{got[1]: true, got[2]: true}
	if !mid["orders.buy"] || !mid["orders.sell"] {
		t.Errorf("middle tier = %v, want both index-2 steps", got[1:3])
	}
}

func TestFailureActivatesCompensatorAndOrphansRest(t *testing.T) {
	store := memory.New()
	exec := &markingExec{store: store, fail: map[string]bool{"orders.buy": true}}
	r := testRunner(store, exec)

	steps := seedBlock(t, store, []struct {
		class string
		index int
		typ   step.Type
	}{
		{"margin.reserve", 1, ""},
		{"orders.buy", 2, ""},
		{"position.verify", 3, ""},
		{"position.unwind", step.ResolveIndex, step.TypeResolveException},
	})

	drain(t, r, "btc")

	ctx := context.Background()
	wantStates := map[string]step.State{
		"margin.reserve":  step.StateCompleted,
		"orders.buy":      step.StateFailed,
		"position.verify": step.StateNotRunnable,
		"position.unwind": step.StateCompleted,
	}
	for _, s := range steps {
		got, err := store.GetStep(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetStep: %v", err)
		}
		if got.State != wantStates[s.Class] {
			t.Errorf("%s state = %s, want %s", s.Class, got.State, wantStates[s.Class])
		}
	}

	// The compensator fired exactly once.
	fired := 0
	for _, class := range exec.order() {
		if class == "position.unwind" {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("compensator ran %d times, want exactly once", fired)
	}

	// The compensator's arguments carry the failure context.
	for _, s := range steps {
		if s.Class != "position.unwind" {
			continue
		}
		got, err := store.GetStep(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetStep: %v", err)
		}
		var args struct {
			Failure struct {
				Class string `json:"class"`
			} `json:"failure"`
		}
		if err := json.Unmarshal(got.Arguments, &args); err != nil {
			t.Fatalf("compensator arguments: %v", err)
		}
		if args.Failure.Class != "orders.buy" {
			t.Errorf("failure context class = %q, want orders.buy", args.Failure.Class)
		}
	}
}

func TestCompensatorNeverRunsWithoutFailure(t *testing.T) {
	store := memory.New()
	exec := &markingExec{store: store}
	r := testRunner(store, exec)

	seedBlock(t, store, []struct {
		class string
		index int
		typ   step.Type
	}{
		{"orders.buy", 1, ""},
		{"position.unwind", step.ResolveIndex, step.TypeResolveException},
	})

	drain(t, r, "btc")

	for _, class := range exec.order() {
		if class == "position.unwind" {
			t.Fatal("compensator ran although no step failed")
		}
	}
}

func TestSucceededBlockRetiresCompensatorAndQuietsGroup(t *testing.T) {
	store := memory.New()
	exec := &markingExec{store: store}
	r := testRunner(store, exec)
	ctx := context.Background()

	steps := seedBlock(t, store, []struct {
		class string
		index int
		typ   step.Type
	}{
		{"margin.reserve", 1, ""},
		{"orders.buy", 2, ""},
		{"position.unwind", step.ResolveIndex, step.TypeResolveException},
	})

	drain(t, r, "btc")

	comp, err := store.GetStep(ctx, steps[2].ID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if comp.State != step.StateNotRunnable {
		t.Errorf("compensator state = %s, want %s", comp.State, step.StateNotRunnable)
	}

	groups, err := store.ActiveGroups(ctx)
	if err != nil {
		t.Fatalf("ActiveGroups: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("active groups = %v, want none after block success", groups)
	}
}

func TestFutureDispatchAfterIsNotDue(t *testing.T) {
	store := memory.New()
	exec := &markingExec{store: store}
	r := testRunner(store, exec)
	ctx := context.Background()

	s := step.New("orders.buy", nil,
		step.WithGroup("btc"),
		step.WithDispatchAfter(time.Now().Add(time.Hour)),
	)
	if err := store.CreateStep(ctx, s); err != nil {
		t.Fatal(err)
	}

	busy, err := r.DispatchGroup(ctx, "btc")
	if err != nil {
		t.Fatalf("DispatchGroup: %v", err)
	}
	if busy {
		t.Error("step with future dispatch_after was dispatched")
	}
	got, _ := store.GetStep(ctx, s.ID)
	if got.State != step.StatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
}

func TestStandaloneStepsDispatchImmediately(t *testing.T) {
	store := memory.New()
	exec := &markingExec{store: store}
	r := testRunner(store, exec)
	ctx := context.Background()

	s := step.New("orders.buy", nil, step.WithGroup("btc"))
	if err := store.CreateStep(ctx, s); err != nil {
		t.Fatal(err)
	}

	drain(t, r, "btc")
	got, _ := store.GetStep(ctx, s.ID)
	if got.State != step.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
}

// panickingExec blows up outside any middleware chain.
type panickingExec struct{}

func (panickingExec) Run(ctx context.Context, s *step.Step) error {
	panic("executor wiring broken")
}

func TestPanicOutsideExecutorForcesFailure(t *testing.T) {
	store := memory.New()
	classifier := recovery.NewClassifier(store,
		recovery.WithLogger(slog.New(slog.DiscardHandler)),
		recovery.WithNotifier(notify.NewLogger(slog.New(slog.DiscardHandler))))
	r := dispatch.NewRunner(store, panickingExec{},
		dispatch.WithRunnerLogger(slog.New(slog.DiscardHandler)),
		dispatch.WithRunnerFailer(classifier),
	)
	ctx := context.Background()

	s := step.New("orders.buy", nil, step.WithGroup("btc"))
	if err := store.CreateStep(ctx, s); err != nil {
		t.Fatal(err)
	}

	busy, err := r.DispatchGroup(ctx, "btc")
	if err != nil {
		t.Fatalf("DispatchGroup: %v", err)
	}
	if !busy {
		t.Fatal("step was never dispatched")
	}

	got, err := store.GetStep(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if got.State != step.StateFailed {
		t.Errorf("state = %s, want %s after escaped panic", got.State, step.StateFailed)
	}
	if got.ErrorMessage == "" {
		t.Error("panic cause was not persisted")
	}

	// The group goes quiet instead of re-dispatching the broken step.
	busy, err = r.DispatchGroup(ctx, "btc")
	if err != nil {
		t.Fatalf("DispatchGroup: %v", err)
	}
	if busy {
		t.Error("failed step was dispatched again")
	}
}
