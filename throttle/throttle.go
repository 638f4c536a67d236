// Package throttle decides, before an outbound exchange call, whether the
// call may proceed now, must wait, or is refused. Exchange rate limits are
// enforced per source IP, so usage counters are shared across every worker
// process behind that IP: the package reads and writes an injected
// StateStore rather than keeping in-process globals, and the counters come
// from values the exchange reports on each response, never from local
// bookkeeping. The exchange itself is the ultimate enforcer; consistency
// here is best effort.
package throttle

import (
	"context"
	"time"
)

// Action is the outcome kind of a throttle decision.
type Action int

const (
	// ActionProceed allows the call immediately.
	ActionProceed Action = iota
	// ActionWait allows the call after Delay elapses. Callers should
	// re-queue the step with a future dispatch time for anything beyond
	// a short delay rather than blocking the worker.
	ActionWait
	// ActionRefuse denies the call; the caller re-queues and tries a
	// later dispatch pass.
	ActionRefuse
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionWait:
		return "wait"
	case ActionRefuse:
		return "refuse"
	default:
		return "unknown"
	}
}

// Decision is the result of consulting the throttler.
type Decision struct {
	Action Action
	// Delay is how long to wait before retrying; set for Wait and, as a
	// hint, for Refuse.
	Delay time.Duration
}

// Proceed returns an allow decision.
func Proceed() Decision { return Decision{Action: ActionProceed} }

// Wait returns a delay decision.
func Wait(d time.Duration) Decision { return Decision{Action: ActionWait, Delay: d} }

// Refuse returns a deny decision with a retry hint.
func Refuse(hint time.Duration) Decision { return Decision{Action: ActionRefuse, Delay: hint} }

// Gate is the contract consumed by jobs before any outbound call.
type Gate interface {
	Decide(ctx context.Context, apiSystem string) (Decision, error)
}

// Sample is one observed usage counter.
type Sample struct {
	// Value is the exchange-reported usage (or remaining budget).
	Value int64
	// At is when the value was observed.
	At time.Time
	// OK is false when no sample exists for the key.
	OK bool
}

// StateStore is the shared, cross-process throttle state. Implemented by
// store/memory (tests) and store/redis (production: all workers behind one
// IP share one store).
type StateStore interface {
	// LastRequest returns when the last request for the API system was
	// sent, or a zero time if none is recorded.
	LastRequest(ctx context.Context, apiSystem string) (time.Time, error)

	// TouchRequest records that a request is being sent now.
	TouchRequest(ctx context.Context, apiSystem string, at time.Time) error

	// Usage returns the most recently observed counter for the
	// (apiSystem, limitType, interval) key.
	Usage(ctx context.Context, apiSystem, limitType string, interval time.Duration) (Sample, error)

	// SetUsage stores an exchange-reported counter for the key.
	SetUsage(ctx context.Context, apiSystem, limitType string, interval time.Duration, value int64, at time.Time) error
}
