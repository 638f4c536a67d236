package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/martingalian/stride/step"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, and the
// stack is recorded on the step for forensic queries.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s *step.Step, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("step handler panicked",
					slog.String("class", s.Class),
					slog.String("step_id", s.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in step %s: %v", s.Class, r)
				s.RecordError(retErr.Error(), stack)
			}
		}()
		return next(ctx)
	}
}
