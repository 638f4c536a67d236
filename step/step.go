// Package step defines the persisted unit of work — the Step record, its
// state machine, the weak relatable reference, and the persistence
// contract. A Step is mutated only by the lifecycle controller and the
// recovery classifier; the engine never deletes one.
package step

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/id"
)

// ExecMode selects between the normal compute path and the
// confirming-completion sub-mode, which re-runs only the job's
// confirmation check.
type ExecMode string

const (
	ExecModeNormal     ExecMode = "normal"
	ExecModeConfirming ExecMode = "confirming-completion"
)

// Type distinguishes principal-path steps from latent exception-resolution
// steps that only fire when the block's principal path fails.
type Type string

const (
	TypeDefault          Type = "default"
	TypeResolveException Type = "resolve-exception"
)

// Double-check bookkeeping. A job that defines a double-check hook gets up
// to MaxDoubleChecks extra passes; a passing check stores the
// DoubleCheckPassed sentinel so operators can tell "never checked" from
// "checked and passed".
const (
	MaxDoubleChecks   = 2
	DoubleCheckPassed = 99
)

// ResolveIndex is the reserved block index for resolve-exception steps.
// It sorts after every principal-path index so a resolution step can never
// be picked up by normal ordering.
const ResolveIndex = 9999

// Step is one persisted unit of work and its scheduling/outcome metadata.
type Step struct {
	stride.Entity

	ID        id.StepID       `json:"id"`
	Class     string          `json:"class"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Scheduling.
	State         State         `json:"state"`
	Queue         string        `json:"queue"`
	Group         string        `json:"group"`
	DispatchAfter time.Time     `json:"dispatch_after"`
	Retries       int           `json:"retries"`
	MaxRetries    int           `json:"max_retries"`
	DoubleCheck   int           `json:"double_check"`
	ExecMode      ExecMode      `json:"execution_mode"`
	Timeout       time.Duration `json:"timeout,omitempty"`

	// Composition.
	BlockUUID      uuid.UUID `json:"block_uuid,omitempty"`
	ChildBlockUUID uuid.UUID `json:"child_block_uuid,omitempty"`
	Index          int       `json:"index"`
	Type           Type      `json:"type"`

	// Outcome.
	Response        json.RawMessage `json:"response,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorStackTrace string          `json:"error_stack_trace,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Duration        time.Duration   `json:"duration,omitempty"`

	// Context. A weak reference for log correlation and exception-handler
	// selection — never an ownership link.
	Relatable *Ref `json:"relatable,omitempty"`
}

// New creates a Step in Pending state with the given class and serialized
// arguments, applying creation options.
func New(class string, args json.RawMessage, opts ...Option) *Step {
	o := DefaultCreateOpts()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Step{
		Entity:         stride.NewEntity(),
		ID:             id.NewStepID(),
		Class:          class,
		Arguments:      args,
		State:          StatePending,
		Queue:          o.Queue,
		Group:          o.Group,
		DispatchAfter:  o.DispatchAfter,
		MaxRetries:     o.MaxRetries,
		ExecMode:       ExecModeNormal,
		BlockUUID:      o.Block,
		ChildBlockUUID: uuid.New(),
		Index:          o.Index,
		Type:           o.Type,
		Timeout:        o.Timeout,
		Relatable:      o.Relatable,
	}
	if s.DispatchAfter.IsZero() {
		s.DispatchAfter = s.CreatedAt
	}
	return s
}

// Due reports whether the step is eligible to run at the given time.
func (s *Step) Due(now time.Time) bool {
	return !s.DispatchAfter.After(now)
}

// DoubleChecking reports whether a double-check cycle is in progress,
// meaning compute must not run again on this attempt.
func (s *Step) DoubleChecking() bool {
	return s.DoubleCheck > 0 && s.DoubleCheck != DoubleCheckPassed
}

// RecordError persists the first error observed on the step. Subsequent
// attempts never overwrite the original message or stack trace.
func (s *Step) RecordError(msg, stack string) {
	if s.ErrorMessage != "" {
		return
	}
	s.ErrorMessage = msg
	s.ErrorStackTrace = stack
}
