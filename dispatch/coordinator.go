package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/martingalian/stride/step"
)

// Coordinator periodically scans for groups with open work and enqueues
// one trigger per group. Any number of workers can consume triggers for
// different groups in parallel, so a slow group cannot block others.
type Coordinator struct {
	store    step.Store
	triggers TriggerQueue
	interval time.Duration
	logger   *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithInterval sets the scan interval. Default is one second.
func WithInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.interval = d }
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator builds a coordinator over the step store and trigger
// queue.
func NewCoordinator(store step.Store, triggers TriggerQueue, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:    store,
		triggers: triggers,
		interval: time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run scans until ctx is cancelled. Scan errors are logged, not fatal;
// the next tick retries.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.scan(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("coordinator scan failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) scan(ctx context.Context) error {
	groups, err := c.store.ActiveGroups(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if err := c.triggers.PushTrigger(ctx, group); err != nil {
			return err
		}
	}
	return nil
}
