package throttle

import (
	"context"
	"fmt"
	"time"
)

// Policy maps shared throttle state to a decision for one API system.
type Policy interface {
	Decide(ctx context.Context, apiSystem string, state StateStore, now time.Time) (Decision, error)
}

// Window is one configured (type, interval, limit) budget, e.g. binance
// weight limits ("REQUEST_WEIGHT", 1m, 6000) and ("ORDERS", 10s, 100).
type Window struct {
	Type     string
	Interval time.Duration
	Limit    int64
}

// BudgetPolicy throttles against multiple usage windows. For each window
// it reads the most recently observed usage counter; the call is not
// allowed when usage has reached Limit × SafetyThreshold. A minimum
// inter-request delay is enforced regardless of budget.
type BudgetPolicy struct {
	Windows         []Window
	SafetyThreshold float64
	MinDelay        time.Duration
}

// Decide implements Policy.
func (p *BudgetPolicy) Decide(ctx context.Context, apiSystem string, state StateStore, now time.Time) (Decision, error) {
	if d, err := minDelayGate(ctx, apiSystem, state, now, p.MinDelay); err != nil || d.Action != ActionProceed {
		return d, err
	}

	for _, w := range p.Windows {
		sample, err := state.Usage(ctx, apiSystem, w.Type, w.Interval)
		if err != nil {
			return Refuse(w.Interval), fmt.Errorf("throttle: read usage %s/%s: %w", apiSystem, w.Type, err)
		}
		if !sample.OK {
			continue // no observation yet — nothing to throttle on
		}

		age := now.Sub(sample.At)
		if age >= w.Interval {
			// The window the counter was observed in has elapsed; the
			// exchange has reset it.
			continue
		}

		ceiling := float64(w.Limit) * p.SafetyThreshold
		if float64(sample.Value) >= ceiling {
			// Wait out the remainder of the observed window.
			return Wait(w.Interval - age), nil
		}
	}

	return Proceed(), nil
}

// RemainingPolicy throttles against a single exchange-reported "remaining
// budget" counter: the call is not allowed when remaining/Limit drops
// below SafetyThreshold (inverted sense — lower remaining is worse).
type RemainingPolicy struct {
	// LimitType keys the remaining counter in the state store.
	LimitType string
	// Interval is the window the counter applies to.
	Interval time.Duration
	// Limit is the full budget the remaining value counts down from.
	Limit int64
	// SafetyThreshold is the minimum acceptable remaining fraction.
	SafetyThreshold float64
	MinDelay        time.Duration
}

// Decide implements Policy.
func (p *RemainingPolicy) Decide(ctx context.Context, apiSystem string, state StateStore, now time.Time) (Decision, error) {
	if d, err := minDelayGate(ctx, apiSystem, state, now, p.MinDelay); err != nil || d.Action != ActionProceed {
		return d, err
	}

	sample, err := state.Usage(ctx, apiSystem, p.LimitType, p.Interval)
	if err != nil {
		return Refuse(p.Interval), fmt.Errorf("throttle: read remaining %s/%s: %w", apiSystem, p.LimitType, err)
	}
	if !sample.OK || now.Sub(sample.At) >= p.Interval {
		return Proceed(), nil
	}

	if float64(sample.Value)/float64(p.Limit) < p.SafetyThreshold {
		return Wait(p.Interval - now.Sub(sample.At)), nil
	}
	return Proceed(), nil
}

// MinDelayPolicy is the degenerate fallback for APIs that report no usage
// headers: only a minimum inter-request delay is enforced.
type MinDelayPolicy struct {
	MinDelay time.Duration
}

// Decide implements Policy.
func (p *MinDelayPolicy) Decide(ctx context.Context, apiSystem string, state StateStore, now time.Time) (Decision, error) {
	return minDelayGate(ctx, apiSystem, state, now, p.MinDelay)
}

func minDelayGate(ctx context.Context, apiSystem string, state StateStore, now time.Time, minDelay time.Duration) (Decision, error) {
	if minDelay <= 0 {
		return Proceed(), nil
	}

	last, err := state.LastRequest(ctx, apiSystem)
	if err != nil {
		return Refuse(minDelay), fmt.Errorf("throttle: read last request %s: %w", apiSystem, err)
	}
	if last.IsZero() {
		return Proceed(), nil
	}

	if elapsed := now.Sub(last); elapsed < minDelay {
		return Wait(minDelay - elapsed), nil
	}
	return Proceed(), nil
}
