package audithook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/martingalian/stride/step"
)

type mockRecorder struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
}

func (m *mockRecorder) Record(_ context.Context, evt *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) last() *AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) findByAction(action string) *AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

func testStep(t *testing.T) *step.Step {
	t.Helper()
	return step.New("margin.adjust", nil,
		step.WithQueue("margin"),
		step.WithGroup("btc-usdt"),
		step.WithMaxRetries(3),
	)
}

func TestName(t *testing.T) {
	ext := New(&mockRecorder{})
	if got := ext.Name(); got != "audit-hook" {
		t.Fatalf("Name() = %q, want %q", got, "audit-hook")
	}
}

func TestOnStepCreated(t *testing.T) {
	rec := &mockRecorder{}
	ext := New(rec)

	s := testStep(t)
	ext.OnStepCreated(context.Background(), s)

	evt := rec.last()
	if evt == nil {
		t.Fatal("expected an audit event")
	}
	if evt.Action != ActionStepCreated {
		t.Errorf("Action = %q, want %q", evt.Action, ActionStepCreated)
	}
	if evt.Severity != SeverityInfo {
		t.Errorf("Severity = %q, want %q", evt.Severity, SeverityInfo)
	}
	if evt.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, OutcomeSuccess)
	}
	if evt.ResourceID != s.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, s.ID.String())
	}
	if evt.Metadata["class"] != "margin.adjust" {
		t.Errorf("Metadata[class] = %v, want margin.adjust", evt.Metadata["class"])
	}
	if evt.Metadata["group"] != "btc-usdt" {
		t.Errorf("Metadata[group] = %v, want btc-usdt", evt.Metadata["group"])
	}
}

func TestOnStepCompletedRecordsElapsed(t *testing.T) {
	rec := &mockRecorder{}
	ext := New(rec)

	ext.OnStepCompleted(context.Background(), testStep(t), 1500*time.Millisecond)

	evt := rec.last()
	if evt == nil {
		t.Fatal("expected an audit event")
	}
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("Metadata[elapsed_ms] = %v, want 1500", evt.Metadata["elapsed_ms"])
	}
}

func TestOnStepFailedCarriesError(t *testing.T) {
	rec := &mockRecorder{}
	ext := New(rec)

	ext.OnStepFailed(context.Background(), testStep(t), errors.New("insufficient margin"))

	evt := rec.last()
	if evt == nil {
		t.Fatal("expected an audit event")
	}
	if evt.Severity != SeverityCritical {
		t.Errorf("Severity = %q, want %q", evt.Severity, SeverityCritical)
	}
	if evt.Outcome != OutcomeFailure {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, OutcomeFailure)
	}
	if evt.Reason != "insufficient margin" {
		t.Errorf("Reason = %q, want insufficient margin", evt.Reason)
	}
	if evt.Metadata["error"] != "insufficient margin" {
		t.Errorf("Metadata[error] = %v, want insufficient margin", evt.Metadata["error"])
	}
}

func TestOnStepRetrying(t *testing.T) {
	rec := &mockRecorder{}
	ext := New(rec)

	nextAt := time.Now().Add(30 * time.Second)
	ext.OnStepRetrying(context.Background(), testStep(t), 2, nextAt)

	evt := rec.findByAction(ActionStepRetrying)
	if evt == nil {
		t.Fatal("expected a retrying event")
	}
	if evt.Severity != SeverityWarning {
		t.Errorf("Severity = %q, want %q", evt.Severity, SeverityWarning)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt] = %v, want 2", evt.Metadata["attempt"])
	}
	if evt.Metadata["max_retries"] != 3 {
		t.Errorf("Metadata[max_retries] = %v, want 3", evt.Metadata["max_retries"])
	}
}

func TestOnThrottleRefused(t *testing.T) {
	rec := &mockRecorder{}
	ext := New(rec)

	ext.OnThrottleRefused(context.Background(), "binance")

	evt := rec.last()
	if evt == nil {
		t.Fatal("expected an audit event")
	}
	if evt.Action != ActionThrottleRefused {
		t.Errorf("Action = %q, want %q", evt.Action, ActionThrottleRefused)
	}
	if evt.Resource != ResourceAPISystem {
		t.Errorf("Resource = %q, want %q", evt.Resource, ResourceAPISystem)
	}
	if evt.ResourceID != "binance" {
		t.Errorf("ResourceID = %q, want binance", evt.ResourceID)
	}
}

func TestWithActionsFiltersEvents(t *testing.T) {
	rec := &mockRecorder{}
	ext := New(rec, WithActions(ActionStepFailed, ActionStepEscalated))

	s := testStep(t)
	ext.OnStepCreated(context.Background(), s)
	ext.OnStepStarted(context.Background(), s)
	ext.OnStepCompleted(context.Background(), s, time.Second)
	ext.OnThrottleRefused(context.Background(), "binance")

	if got := rec.count(); got != 0 {
		t.Fatalf("recorded %d events, want 0", got)
	}

	ext.OnStepFailed(context.Background(), s, errors.New("boom"))
	ext.OnStepEscalated(context.Background(), s, errors.New("boom"))

	if got := rec.count(); got != 2 {
		t.Fatalf("recorded %d events, want 2", got)
	}
}

func TestRecorderFailureDoesNotPanic(t *testing.T) {
	rec := &mockRecorder{err: errors.New("audit store down")}
	ext := New(rec)

	ext.OnStepCreated(context.Background(), testStep(t))

	if got := rec.count(); got != 0 {
		t.Fatalf("recorded %d events, want 0", got)
	}
}

func TestRecorderFunc(t *testing.T) {
	var captured *AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		captured = evt
		return nil
	}))

	ext.OnStepEscalated(context.Background(), testStep(t), errors.New("manual intervention required"))

	if captured == nil {
		t.Fatal("expected the recorder func to be called")
	}
	if captured.Action != ActionStepEscalated {
		t.Errorf("Action = %q, want %q", captured.Action, ActionStepEscalated)
	}
}
