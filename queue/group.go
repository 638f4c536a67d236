package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// GroupConfig defines rate limits and concurrency for a specific group
// on a specific queue, identified by the step's Group field. Groups map
// to exchange accounts or symbols, so these limits keep one hot account
// from starving the rest of a queue.
type GroupConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Group is the group identifier (the step.Group field).
	Group string

	// RateLimit is the sustained dispatch passes per second for this
	// group. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the group's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous dispatch passes for this group
	// on this queue. Zero means no group-specific concurrency limit.
	MaxConcurrency int
}

// groupState tracks runtime state for a single queue+group pair.
type groupState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// groupKey builds the map key for a queue+group pair.
func groupKey(queue, group string) string {
	return fmt.Sprintf("%s:%s", queue, group)
}

// SetGroupConfig configures rate limits and concurrency for a specific
// group on a specific queue. Calling this multiple times for the same
// queue+group replaces the previous configuration.
func (m *Manager) SetGroupConfig(cfg GroupConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := groupKey(cfg.QueueName, cfg.Group)
	existing := m.groups[key]

	gs := &groupState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		gs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		gs.active = existing.active
	}
	m.groups[key] = gs
}

// GroupActiveCount returns the current number of active dispatch passes
// for a queue+group pair.
func (m *Manager) GroupActiveCount(queue, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gs := m.groups[groupKey(queue, group)]; gs != nil {
		return gs.active
	}
	return 0
}
