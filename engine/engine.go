// Package engine wires all Stride subsystems together. It type-asserts
// the configured backend into the subsystem store interfaces, builds the
// job registry, recovery classifier, lifecycle controller, dispatch
// runner, coordinator, and worker pool, and exposes the step creation
// API.
//
// This package exists to break the import cycle: the root stride package
// defines Entity and the sentinel errors (imported by step, job, etc.)
// and so cannot import those packages back. The engine package sits
// above all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/backoff"
	"github.com/martingalian/stride/block"
	"github.com/martingalian/stride/dispatch"
	"github.com/martingalian/stride/exchangeapi"
	"github.com/martingalian/stride/ext"
	"github.com/martingalian/stride/job"
	"github.com/martingalian/stride/lifecycle"
	mw "github.com/martingalian/stride/middleware"
	"github.com/martingalian/stride/notify"
	"github.com/martingalian/stride/observability"
	"github.com/martingalian/stride/queue"
	"github.com/martingalian/stride/recovery"
	"github.com/martingalian/stride/step"
	"github.com/martingalian/stride/throttle"
	"github.com/martingalian/stride/worker"
)

// Engine owns the wired subsystem graph for one worker process.
// Use Build() to create one from a store backend.
type Engine struct {
	cfg    stride.Config
	logger *slog.Logger

	steps    step.Store
	triggers dispatch.TriggerQueue
	state    throttle.StateStore

	registry   *job.Registry
	handlers   *exchangeapi.Registry
	resolvers  *step.Resolvers
	extensions *ext.Registry
	notifier   notify.Notifier
	throttler  *throttle.Throttler
	classifier *recovery.Classifier
	controller *lifecycle.Controller
	runner     *dispatch.Runner

	coordinator *dispatch.Coordinator
	pool        *worker.Pool

	queueConfigs []queue.Config
	queueManager *queue.Manager

	mws []mw.Middleware
	bo  backoff.Strategy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.Mutex
	running   bool
	coordStop context.CancelFunc
	coordDone chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Unset fields keep their
// defaults.
func WithConfig(cfg stride.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithTransientBackoff sets the backoff strategy for infrastructure
// retries. If not set, backoff.DefaultTransient() is used.
func WithTransientBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithNotifier sets the operator escalation channel. If not set,
// escalations go to the engine logger.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine over the given store backend. The backend must
// implement step.Store and dispatch.TriggerQueue; when it additionally
// implements throttle.StateStore the distributed throttler is enabled.
// store.Layer combines per-concern backends into one value.
func Build(backend any, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, stride.ErrNoStore
	}

	steps, ok := backend.(step.Store)
	if !ok {
		return nil, fmt.Errorf("stride: backend does not implement step.Store")
	}
	triggers, ok := backend.(dispatch.TriggerQueue)
	if !ok {
		return nil, fmt.Errorf("stride: backend does not implement dispatch.TriggerQueue")
	}
	state, _ := backend.(throttle.StateStore)

	eng := &Engine{
		cfg:        stride.DefaultConfig(),
		logger:     slog.Default(),
		steps:      steps,
		triggers:   triggers,
		state:      state,
		registry:   job.NewRegistry(),
		handlers:   exchangeapi.NewRegistry(),
		resolvers:  step.NewResolvers(),
		extensions: ext.NewRegistry(nil),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultTransient()
	}
	if eng.notifier == nil {
		eng.notifier = notify.NewLogger(eng.logger)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/martingalian/stride")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/martingalian/stride")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/martingalian/stride/observability")
		obsExt = observability.NewWithMeter(meter)
	} else {
		obsExt = observability.New()
	}
	eng.extensions.Register(obsExt)

	// Distributed throttler, when the backend carries shared state.
	if eng.state != nil {
		eng.throttler = throttle.New(eng.state,
			throttle.WithLogger(eng.logger),
		)
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger, eng.resolvers),
		mw.Timeout(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.classifier = recovery.NewClassifier(eng.steps,
		recovery.WithHandlers(eng.handlers),
		recovery.WithNotifier(eng.notifier),
		recovery.WithResolvers(eng.resolvers),
		recovery.WithExtensions(eng.extensions),
		recovery.WithTransientBackoff(eng.bo),
		recovery.WithLogger(eng.logger),
	)

	ctlOpts := []lifecycle.Option{
		lifecycle.WithMiddleware(mw.Chain(allMws...)),
		lifecycle.WithExtensions(eng.extensions),
		lifecycle.WithLogger(eng.logger),
	}
	if eng.throttler != nil {
		ctlOpts = append(ctlOpts, lifecycle.WithThrottle(eng.throttler))
	}
	eng.controller = lifecycle.New(eng.steps, eng.registry, eng.classifier, ctlOpts...)

	eng.runner = dispatch.NewRunner(eng.steps, eng.controller,
		dispatch.WithRunnerLogger(eng.logger),
		dispatch.WithRunnerFailer(eng.classifier),
	)

	eng.coordinator = dispatch.NewCoordinator(eng.steps, eng.triggers,
		dispatch.WithInterval(eng.cfg.CoordinateInterval),
		dispatch.WithCoordinatorLogger(eng.logger),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPollInterval(eng.cfg.PollInterval),
	}
	if len(eng.cfg.Queues) > 0 {
		poolOpts = append(poolOpts, worker.WithPoolQueue(eng.cfg.Queues[0]))
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(eng.triggers, eng.runner, eng.logger, poolOpts...)

	return eng, nil
}

// RegisterJob registers a job class with the engine.
func (eng *Engine) RegisterJob(class string, factory job.Factory, opts ...job.OptionFunc) {
	eng.registry.Register(class, factory, opts...)
}

// RegisterAPIHandler registers an exchange API handler used for
// exception classification and throttle identity.
func (eng *Engine) RegisterAPIHandler(apiSystem string, h exchangeapi.Handler) {
	eng.handlers.Register(apiSystem, h)
}

// RegisterExtension registers a lifecycle extension.
func (eng *Engine) RegisterExtension(e ext.Extension) {
	eng.extensions.Register(e)
}

// CreateStep creates and persists a step from a typed argument value.
func CreateStep[T any](ctx context.Context, eng *Engine, class string, args T, opts ...step.Option) (*step.Step, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments for step %q: %w", class, err)
	}
	return eng.CreateStepRaw(ctx, class, data, opts...)
}

// CreateStepRaw creates a step with a pre-serialized argument payload.
// Registry defaults for the class (queue, max retries, timeout) apply
// before the per-step options.
func (eng *Engine) CreateStepRaw(ctx context.Context, class string, args json.RawMessage, opts ...step.Option) (*step.Step, error) {
	allOpts := append(eng.classDefaults(class), opts...)

	s := step.New(class, args, allOpts...)
	if err := eng.steps.CreateStep(ctx, s); err != nil {
		return nil, err
	}
	eng.extensions.EmitStepCreated(ctx, s)

	// Best effort: a trigger cuts latency, the coordinator scan is the
	// guarantee.
	if err := eng.triggers.PushTrigger(ctx, s.Group); err != nil {
		eng.logger.Warn("push trigger after create",
			slog.String("group", s.Group), slog.String("error", err.Error()))
	}
	return s, nil
}

// NewComposer returns a block composer. Call Emit with the engine's
// EmitBlock to persist the composed steps.
func (eng *Engine) NewComposer(opts ...block.Option) *block.Composer {
	return block.New(opts...)
}

// EmitBlock persists every step of the composed block and wakes the
// block's group. It returns the next free index for chained sub-blocks.
func (eng *Engine) EmitBlock(ctx context.Context, c *block.Composer) (int, error) {
	next, err := c.Emit(ctx, eng.steps)
	if err != nil {
		return 0, err
	}

	// Announce only the steps this composer persisted and nudge their
	// groups; a Continue-chained emit must not re-announce earlier steps.
	groups := map[string]bool{}
	for _, s := range c.Steps() {
		eng.extensions.EmitStepCreated(ctx, s)
		groups[s.Group] = true
	}
	for g := range groups {
		if pushErr := eng.triggers.PushTrigger(ctx, g); pushErr != nil {
			eng.logger.Warn("push trigger after block emit",
				slog.String("group", g), slog.String("error", pushErr.Error()))
		}
	}
	return next, nil
}

// Start launches the coordinator scan loop and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.running {
		return nil
	}
	eng.running = true

	coordCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eng.coordStop = cancel
	eng.coordDone = make(chan struct{})
	go func() {
		defer close(eng.coordDone)
		if err := eng.coordinator.Run(coordCtx); err != nil && coordCtx.Err() == nil {
			eng.logger.Error("coordinator exited", slog.String("error", err.Error()))
		}
	}()

	return eng.pool.Start(ctx)
}

// Stop gracefully shuts down the engine: the coordinator stops issuing
// triggers, the pool drains, and shutdown hooks run. The configured
// ShutdownTimeout bounds the drain.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.running {
		eng.mu.Unlock()
		return nil
	}
	eng.running = false
	coordStop, coordDone := eng.coordStop, eng.coordDone
	eng.mu.Unlock()

	coordStop()
	<-coordDone

	stopCtx := ctx
	if eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}
	poolErr := eng.pool.Stop(stopCtx)

	eng.extensions.EmitShutdown(stopCtx)
	return poolErr
}

// classDefaults maps a class registration's options onto step creation
// options. Explicit per-step options override them.
func (eng *Engine) classDefaults(class string) []step.Option {
	reg, ok := eng.registry.Get(class)
	if !ok {
		return nil
	}
	opts := []step.Option{
		step.WithMaxRetries(reg.Opts.MaxRetries),
	}
	if reg.Opts.Queue != "" {
		opts = append(opts, step.WithQueue(reg.Opts.Queue))
	}
	if reg.Opts.Timeout > 0 {
		opts = append(opts, step.WithTimeout(reg.Opts.Timeout))
	}
	return opts
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Resolvers returns the relatable-reference resolver registry.
func (eng *Engine) Resolvers() *step.Resolvers { return eng.resolvers }

// Throttler returns the distributed throttler, or nil when the backend
// carries no shared throttle state.
func (eng *Engine) Throttler() *throttle.Throttler { return eng.throttler }

// Runner returns the dispatch runner, for daemon-mode callers that drive
// a single group directly.
func (eng *Engine) Runner() *dispatch.Runner { return eng.runner }

// Steps returns the step store.
func (eng *Engine) Steps() step.Store { return eng.steps }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
