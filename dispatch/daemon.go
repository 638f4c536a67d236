package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// Daemon drives one group directly, with no queue indirection. It runs
// dispatch passes in a loop, sleeping briefly while the group is busy
// and longer while it is idle. Intended for local debugging of a single
// group.
type Daemon struct {
	runner    *Runner
	group     string
	busySleep time.Duration
	idleSleep time.Duration
	logger    *slog.Logger
}

// NewDaemon builds a daemon for one group.
func NewDaemon(runner *Runner, group string, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		runner:    runner,
		group:     group,
		busySleep: time.Second,
		idleSleep: 5 * time.Second,
		logger:    logger,
	}
}

// Run loops until ctx is cancelled. Pass errors are logged; the loop
// keeps going.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("dispatch daemon started", "group", d.group)
	for {
		busy, err := d.runner.DispatchGroup(ctx, d.group)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("dispatch pass failed", "group", d.group, "error", err)
		}

		sleep := d.idleSleep
		if busy {
			sleep = d.busySleep
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
