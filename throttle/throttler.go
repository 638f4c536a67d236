package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttler implements Gate over a per-API policy map and the shared
// StateStore. An optional in-process token bucket per API system smooths
// bursts before the shared state is even consulted; the shared counters
// remain the source of truth across processes.
type Throttler struct {
	state  StateStore
	logger *slog.Logger

	mu       sync.RWMutex
	policies map[string]Policy
	local    map[string]*rate.Limiter

	// onRefuse is invoked for Wait/Refuse outcomes (metrics, extensions).
	onRefuse func(apiSystem string, d Decision)

	// now is swappable for tests.
	now func() time.Time
}

// ThrottlerOption configures a Throttler.
type ThrottlerOption func(*Throttler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ThrottlerOption {
	return func(t *Throttler) { t.logger = l }
}

// WithRefusalHook installs a callback fired on every non-proceed decision.
func WithRefusalHook(fn func(apiSystem string, d Decision)) ThrottlerOption {
	return func(t *Throttler) { t.onRefuse = fn }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ThrottlerOption {
	return func(t *Throttler) { t.now = now }
}

// New creates a Throttler over the shared state store. API systems without
// a registered policy fall back to a 250ms minimum-delay policy.
func New(state StateStore, opts ...ThrottlerOption) *Throttler {
	t := &Throttler{
		state:    state,
		logger:   slog.Default(),
		policies: make(map[string]Policy),
		local:    make(map[string]*rate.Limiter),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register installs the policy for an API system, replacing any previous one.
func (t *Throttler) Register(apiSystem string, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policies[apiSystem] = p
}

// SetLocalLimit adds an in-process token bucket for the API system.
// A zero or negative limit removes it.
func (t *Throttler) SetLocalLimit(apiSystem string, perSecond float64, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if perSecond <= 0 {
		delete(t.local, apiSystem)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	t.local[apiSystem] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// defaultPolicy is used for API systems nothing was registered for.
var defaultPolicy = &MinDelayPolicy{MinDelay: 250 * time.Millisecond}

// Decide implements Gate. On Proceed the shared last-request timestamp is
// touched so the minimum inter-request delay holds across processes.
func (t *Throttler) Decide(ctx context.Context, apiSystem string) (Decision, error) {
	t.mu.RLock()
	policy, ok := t.policies[apiSystem]
	limiter := t.local[apiSystem]
	t.mu.RUnlock()

	if !ok {
		policy = defaultPolicy
	}

	now := t.now()

	// Local smoothing bucket first, before any store round trip.
	if limiter != nil {
		res := limiter.Reserve()
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			d := Wait(delay)
			t.refused(apiSystem, d)
			return d, nil
		}
	}

	d, err := policy.Decide(ctx, apiSystem, t.state, now)
	if err != nil {
		t.logger.Warn("throttle decision degraded",
			slog.String("api_system", apiSystem),
			slog.String("error", err.Error()),
		)
		t.refused(apiSystem, d)
		return d, err
	}

	if d.Action != ActionProceed {
		t.refused(apiSystem, d)
		return d, nil
	}

	if touchErr := t.state.TouchRequest(ctx, apiSystem, now); touchErr != nil {
		// Best effort: the exchange enforces the real limit.
		t.logger.Warn("throttle touch failed",
			slog.String("api_system", apiSystem),
			slog.String("error", touchErr.Error()),
		)
	}
	return d, nil
}

// Observe records an exchange-reported usage or remaining counter. Domain
// code calls this on every outbound response.
func (t *Throttler) Observe(ctx context.Context, apiSystem, limitType string, interval time.Duration, value int64) error {
	return t.state.SetUsage(ctx, apiSystem, limitType, interval, value, t.now())
}

func (t *Throttler) refused(apiSystem string, d Decision) {
	t.logger.Debug("throttle held call",
		slog.String("api_system", apiSystem),
		slog.String("action", d.Action.String()),
		slog.Duration("delay", d.Delay),
	)
	if t.onRefuse != nil {
		t.onRefuse(apiSystem, d)
	}
}
