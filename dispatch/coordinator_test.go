package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/store/memory"
)

func TestCoordinatorTriggersActiveGroups(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	for _, g := range []string{"btc", "eth"} {
		if err := store.CreateStep(ctx, step.New("orders.place", nil, step.WithGroup(g))); err != nil {
			t.Fatal(err)
		}
	}
	settled := step.New("orders.place", nil, step.WithGroup("sol"))
	settled.State = step.StateCompleted
	if err := store.CreateStep(ctx, settled); err != nil {
		t.Fatal(err)
	}

	coord := dispatch.NewCoordinator(store, store,
		dispatch.WithInterval(10*time.Millisecond),
		dispatch.WithCoordinatorLogger(slog.New(slog.DiscardHandler)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- coord.Run(runCtx) }()

	got := map[string]bool{}
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		group, err := store.PopTrigger(ctx, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("PopTrigger: %v", err)
		}
		if group != "" {
			got[group] = true
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	if !got["btc"] || !got["eth"] {
		t.Errorf("triggered groups = %v, want btc and eth", got)
	}
	if got["sol"] {
		t.Error("settled group was triggered")
	}
}
