package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/martingalian/stride/step"
)

type createdEntry struct {
	name string
	hook StepCreatedHook
}

type startedEntry struct {
	name string
	hook StepStartedHook
}

type completedEntry struct {
	name string
	hook StepCompletedHook
}

type retryingEntry struct {
	name string
	hook StepRetryingHook
}

type failedEntry struct {
	name string
	hook StepFailedHook
}

type escalatedEntry struct {
	name string
	hook StepEscalatedHook
}

type refusedEntry struct {
	name string
	hook ThrottleRefusedHook
}

type shutdownEntry struct {
	name string
	hook ShutdownHook
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Hook capabilities are resolved once in Register so emit
// paths are plain slice walks. Hook panics and errors are logged and
// never propagate into the step lifecycle.
type Registry struct {
	mu     sync.RWMutex
	exts   map[string]Extension
	logger *slog.Logger

	created   []createdEntry
	started   []startedEntry
	completed []completedEntry
	retrying  []retryingEntry
	failed    []failedEntry
	escalated []escalatedEntry
	refused   []refusedEntry
	shutdown  []shutdownEntry
}

// NewRegistry returns an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		exts:   make(map[string]Extension),
		logger: logger,
	}
}

// Register adds an extension and caches its hook capabilities.
// Registering a second extension under the same name replaces nothing;
// the duplicate is ignored and a warning is logged.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := e.Name()
	if _, dup := r.exts[name]; dup {
		r.logger.Warn("duplicate extension ignored", "extension", name)
		return
	}
	r.exts[name] = e

	if h, ok := e.(StepCreatedHook); ok {
		r.created = append(r.created, createdEntry{name, h})
	}
	if h, ok := e.(StepStartedHook); ok {
		r.started = append(r.started, startedEntry{name, h})
	}
	if h, ok := e.(StepCompletedHook); ok {
		r.completed = append(r.completed, completedEntry{name, h})
	}
	if h, ok := e.(StepRetryingHook); ok {
		r.retrying = append(r.retrying, retryingEntry{name, h})
	}
	if h, ok := e.(StepFailedHook); ok {
		r.failed = append(r.failed, failedEntry{name, h})
	}
	if h, ok := e.(StepEscalatedHook); ok {
		r.escalated = append(r.escalated, escalatedEntry{name, h})
	}
	if h, ok := e.(ThrottleRefusedHook); ok {
		r.refused = append(r.refused, refusedEntry{name, h})
	}
	if h, ok := e.(ShutdownHook); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Get returns a registered extension by name.
func (r *Registry) Get(name string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exts[name]
	return e, ok
}

func (r *Registry) EmitStepCreated(ctx context.Context, s *step.Step) {
	r.mu.RLock()
	entries := r.created
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "step_created", func() { e.hook.OnStepCreated(ctx, s) })
	}
}

func (r *Registry) EmitStepStarted(ctx context.Context, s *step.Step) {
	r.mu.RLock()
	entries := r.started
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "step_started", func() { e.hook.OnStepStarted(ctx, s) })
	}
}

func (r *Registry) EmitStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration) {
	r.mu.RLock()
	entries := r.completed
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "step_completed", func() { e.hook.OnStepCompleted(ctx, s, elapsed) })
	}
}

func (r *Registry) EmitStepRetrying(ctx context.Context, s *step.Step, attempt int, nextAt time.Time) {
	r.mu.RLock()
	entries := r.retrying
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "step_retrying", func() { e.hook.OnStepRetrying(ctx, s, attempt, nextAt) })
	}
}

func (r *Registry) EmitStepFailed(ctx context.Context, s *step.Step, err error) {
	r.mu.RLock()
	entries := r.failed
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "step_failed", func() { e.hook.OnStepFailed(ctx, s, err) })
	}
}

func (r *Registry) EmitStepEscalated(ctx context.Context, s *step.Step, err error) {
	r.mu.RLock()
	entries := r.escalated
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "step_escalated", func() { e.hook.OnStepEscalated(ctx, s, err) })
	}
}

func (r *Registry) EmitThrottleRefused(ctx context.Context, apiSystem string) {
	r.mu.RLock()
	entries := r.refused
	r.mu.RUnlock()
	for _, e := range entries {
		r.safely(e.name, "throttle_refused", func() { e.hook.OnThrottleRefused(ctx, apiSystem) })
	}
}

// EmitShutdown runs every shutdown hook. Errors are logged, not
// returned; shutdown always proceeds.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	entries := r.shutdown
	r.mu.RUnlock()
	for _, e := range entries {
		name := e.name
		hook := e.hook
		r.safely(name, "shutdown", func() {
			if err := hook.OnShutdown(ctx); err != nil {
				r.logger.Warn("extension shutdown failed",
					"extension", name,
					"error", err,
				)
			}
		})
	}
}

func (r *Registry) safely(name, event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("extension hook panicked",
				"extension", name,
				"event", event,
				"panic", rec,
			)
		}
	}()
	fn()
}
