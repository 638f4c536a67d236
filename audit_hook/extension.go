package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martingalian/stride/ext"
	"github.com/martingalian/stride/step"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.StepCreatedHook     = (*Extension)(nil)
	_ ext.StepStartedHook     = (*Extension)(nil)
	_ ext.StepCompletedHook   = (*Extension)(nil)
	_ ext.StepRetryingHook    = (*Extension)(nil)
	_ ext.StepFailedHook      = (*Extension)(nil)
	_ ext.StepEscalatedHook   = (*Extension)(nil)
	_ ext.ThrottleRefusedHook = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so that callers inject their concrete audit client at
// wiring time without this package depending on it.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit trail entry.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Stride lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnStepCreated implements ext.StepCreatedHook.
func (e *Extension) OnStepCreated(ctx context.Context, s *step.Step) {
	e.record(ctx, ActionStepCreated, SeverityInfo, OutcomeSuccess, s.ID.String(), nil,
		stepMeta(s,
			"index", s.Index,
			"type", string(s.Type),
		)...)
}

// OnStepStarted implements ext.StepStartedHook.
func (e *Extension) OnStepStarted(ctx context.Context, s *step.Step) {
	e.record(ctx, ActionStepStarted, SeverityInfo, OutcomeSuccess, s.ID.String(), nil,
		stepMeta(s,
			"execution_mode", string(s.ExecMode),
			"retries", s.Retries,
		)...)
}

// OnStepCompleted implements ext.StepCompletedHook.
func (e *Extension) OnStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration) {
	e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess, s.ID.String(), nil,
		stepMeta(s,
			"state", string(s.State),
			"elapsed_ms", elapsed.Milliseconds(),
		)...)
}

// OnStepRetrying implements ext.StepRetryingHook.
func (e *Extension) OnStepRetrying(ctx context.Context, s *step.Step, attempt int, nextAt time.Time) {
	e.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure, s.ID.String(), nil,
		stepMeta(s,
			"attempt", attempt,
			"max_retries", s.MaxRetries,
			"next_at", nextAt.Format(time.RFC3339),
		)...)
}

// OnStepFailed implements ext.StepFailedHook.
func (e *Extension) OnStepFailed(ctx context.Context, s *step.Step, stepErr error) {
	e.record(ctx, ActionStepFailed, SeverityCritical, OutcomeFailure, s.ID.String(), stepErr,
		stepMeta(s,
			"retries", s.Retries,
			"max_retries", s.MaxRetries,
		)...)
}

// OnStepEscalated implements ext.StepEscalatedHook.
func (e *Extension) OnStepEscalated(ctx context.Context, s *step.Step, stepErr error) {
	e.record(ctx, ActionStepEscalated, SeverityCritical, OutcomeFailure, s.ID.String(), stepErr,
		stepMeta(s)...)
}

// OnThrottleRefused implements ext.ThrottleRefusedHook.
func (e *Extension) OnThrottleRefused(ctx context.Context, apiSystem string) {
	if e.enabled != nil && !e.enabled[ActionThrottleRefused] {
		return
	}
	e.send(ctx, &AuditEvent{
		Action:     ActionThrottleRefused,
		Resource:   ResourceAPISystem,
		Category:   CategoryThrottle,
		ResourceID: apiSystem,
		Outcome:    OutcomeFailure,
		Severity:   SeverityWarning,
	})
}

// ── Internal helpers ────────────────────────────────

// stepMeta prepends the routing fields every step event carries.
func stepMeta(s *step.Step, kvPairs ...any) []any {
	base := []any{
		"class", s.Class,
		"group", s.Group,
		"queue", s.Queue,
	}
	if s.Relatable != nil {
		base = append(base, "relatable", s.Relatable.String())
	}
	return append(base, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome, resourceID string,
	err error,
	kvPairs ...any,
) {
	if e.enabled != nil && !e.enabled[action] {
		return
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	e.send(ctx, &AuditEvent{
		Action:     action,
		Resource:   ResourceStep,
		Category:   CategoryStep,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	})
}

func (e *Extension) send(ctx context.Context, evt *AuditEvent) {
	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
}
