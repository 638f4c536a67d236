package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/martingalian/stride/ext"
	"github.com/martingalian/stride/step"
)

const meterName = "github.com/martingalian/stride/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.StepCreatedHook     = (*MetricsExtension)(nil)
	_ ext.StepStartedHook     = (*MetricsExtension)(nil)
	_ ext.StepCompletedHook   = (*MetricsExtension)(nil)
	_ ext.StepRetryingHook    = (*MetricsExtension)(nil)
	_ ext.StepFailedHook      = (*MetricsExtension)(nil)
	_ ext.StepEscalatedHook   = (*MetricsExtension)(nil)
	_ ext.ThrottleRefusedHook = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it as
// a Stride extension to track creation rates, completion counts, retry
// counts, failure rates, escalations, and throttle refusals per group.
type MetricsExtension struct {
	created   metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	escalated metric.Int64Counter
	refused   metric.Int64Counter
}

// New creates a MetricsExtension using the global meter provider.
func New() *MetricsExtension {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates a MetricsExtension with the provided meter.
func NewWithMeter(meter metric.Meter) *MetricsExtension {
	created, _ := meter.Int64Counter("stride.step.created", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Steps persisted"))
	started, _ := meter.Int64Counter("stride.step.started", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Step executions begun"))
	completed, _ := meter.Int64Counter("stride.step.completed", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Steps settled in a non-failing terminal state"))
	retried, _ := meter.Int64Counter("stride.step.retried", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Retry re-arms scheduled"))
	failed, _ := meter.Int64Counter("stride.step.failed", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Steps settled in the failed state"))
	escalated, _ := meter.Int64Counter("stride.step.escalated", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Failures handed to the operator channel"))
	refused, _ := meter.Int64Counter("stride.throttle.refused", //nolint:errcheck // otel meters only error on invalid names
		metric.WithDescription("Request slots refused by the throttler"))

	return &MetricsExtension{
		created:   created,
		started:   started,
		completed: completed,
		retried:   retried,
		failed:    failed,
		escalated: escalated,
		refused:   refused,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnStepCreated implements ext.StepCreatedHook.
func (m *MetricsExtension) OnStepCreated(ctx context.Context, s *step.Step) {
	m.created.Add(ctx, 1, stepAttrs(s))
}

// OnStepStarted implements ext.StepStartedHook.
func (m *MetricsExtension) OnStepStarted(ctx context.Context, s *step.Step) {
	m.started.Add(ctx, 1, stepAttrs(s))
}

// OnStepCompleted implements ext.StepCompletedHook.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, s *step.Step, _ time.Duration) {
	m.completed.Add(ctx, 1, stepAttrs(s))
}

// OnStepRetrying implements ext.StepRetryingHook.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, s *step.Step, _ int, _ time.Time) {
	m.retried.Add(ctx, 1, stepAttrs(s))
}

// OnStepFailed implements ext.StepFailedHook.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, s *step.Step, _ error) {
	m.failed.Add(ctx, 1, stepAttrs(s))
}

// OnStepEscalated implements ext.StepEscalatedHook.
func (m *MetricsExtension) OnStepEscalated(ctx context.Context, s *step.Step, _ error) {
	m.escalated.Add(ctx, 1, stepAttrs(s))
}

// OnThrottleRefused implements ext.ThrottleRefusedHook.
func (m *MetricsExtension) OnThrottleRefused(ctx context.Context, apiSystem string) {
	m.refused.Add(ctx, 1, metric.WithAttributes(
		attribute.String("api_system", apiSystem),
	))
}

func stepAttrs(s *step.Step) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("class", s.Class),
		attribute.String("group", s.Group),
		attribute.String("queue", s.Queue),
	)
}
