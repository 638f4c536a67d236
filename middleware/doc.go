// Package middleware provides composable middleware for step execution.
//
// A [Middleware] is a function that wraps a step handler. Middleware are
// composed into a chain using [Chain] and applied before each step executes.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger, nil), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs class, queue, group, duration, and outcome; resolves
//     the step's weak entity reference for correlated log lines
//   - [Recover] — catches panics, converts them to errors, and records the
//     stack on the step
//   - [Timeout] — cancels the step context after the step's configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-step duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, s *step.Step, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
