package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/martingalian/stride/observability"
	"github.com/martingalian/stride/step"
)

func newTestExtension() *observability.MetricsExtension {
	return observability.NewWithMeter(noop.NewMeterProvider().Meter("test"))
}

func newTestStep() *step.Step {
	return step.New("order.place", nil, step.WithGroup("btc-usdt"))
}

func TestMetricsExtensionName(t *testing.T) {
	e := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

// All hooks must be callable with a no-op meter; the extension carries no
// state of its own.
func TestMetricsExtensionHooks(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()
	s := newTestStep()

	e.OnStepCreated(ctx, s)
	e.OnStepStarted(ctx, s)
	e.OnStepCompleted(ctx, s, 100*time.Millisecond)
	e.OnStepRetrying(ctx, s, 1, time.Now().Add(time.Minute))
	e.OnStepFailed(ctx, s, errors.New("boom"))
	e.OnStepEscalated(ctx, s, errors.New("boom"))
	e.OnThrottleRefused(ctx, "binance")
}
