// Package worker runs the goroutines that consume group dispatch
// triggers and execute dispatch passes through the runner.
package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/id"
)

// GroupRunner executes one dispatch pass for a group. The dispatch
// runner satisfies this.
type GroupRunner interface {
	DispatchGroup(ctx context.Context, group string) (bool, error)
}

// QueueManager controls per-queue and per-group rate limiting and
// concurrency. The worker pool calls Acquire before running a trigger's
// dispatch pass and Release after it completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue/group
	// combination. Returns true if the pass is allowed to proceed.
	Acquire(queue, group string) bool
	// Release decrements the active count for the queue/group pair.
	Release(queue, group string)
}

// Pool manages a set of concurrent worker goroutines that consume group
// triggers and run dispatch passes.
type Pool struct {
	triggers     dispatch.TriggerQueue
	runner       GroupRunner
	concurrency  int
	queue        string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Queue manager (optional).
	queueManager QueueManager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu     sync.Mutex
	activeGroups map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueue sets the queue name the pool accounts its work against.
func WithPoolQueue(queue string) PoolOption {
	return func(p *Pool) { p.queue = queue }
}

// WithPollInterval sets how long workers block waiting for a trigger.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	triggers dispatch.TriggerQueue,
	runner GroupRunner,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		triggers:     triggers,
		runner:       runner,
		concurrency:  10,
		queue:        "default",
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeGroups: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.String("queue", p.queue),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.triggerLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context has a deadline, in-flight dispatch passes are cancelled when
// time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active passes")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// triggerLoop is run by each worker goroutine.
func (p *Pool) triggerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		group, err := p.triggers.PopTrigger(context.Background(), p.pollInterval)
		if err != nil {
			p.logger.Error("trigger pop error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if group == "" {
			continue
		}

		// Check queue/group rate limit and concurrency. A refused
		// trigger is simply dropped: the coordinator re-issues one on
		// its next scan while the group still has open work.
		if p.queueManager != nil && !p.queueManager.Acquire(p.queue, group) {
			p.logger.Debug("trigger rate limited", slog.String("group", group))
			p.sleep()
			continue
		}

		p.runPass(group)

		if p.queueManager != nil {
			p.queueManager.Release(p.queue, group)
		}
	}
}

// runPass executes one dispatch pass, isolating panics so a broken job
// cannot take the worker down.
func (p *Pool) runPass(group string) {
	ctx, cancel := context.WithCancel(context.Background())
	p.track(group, cancel)
	defer func() {
		p.untrack(group)
		cancel()
		if r := recover(); r != nil {
			p.logger.Error("dispatch pass panicked",
				slog.String("group", group),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	busy, err := p.runner.DispatchGroup(ctx, group)
	if err != nil {
		p.logger.Error("dispatch pass failed",
			slog.String("group", group),
			slog.String("error", err.Error()),
		)
		return
	}
	if busy {
		p.logger.Debug("dispatch pass ran steps", slog.String("group", group))
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(group string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeGroups[group] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(group string) {
	p.activeMu.Lock()
	delete(p.activeGroups, group)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for group, cancel := range p.activeGroups {
		p.logger.Warn("cancelling active dispatch pass", slog.String("group", group))
		cancel()
	}
}
