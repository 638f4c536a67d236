package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/martingalian/stride/step"
)

// Logging returns middleware that logs step start and completion. When
// the step carries a weak entity reference, the resolved description is
// attached so failures read in domain terms ("position BTCUSDT-long")
// rather than opaque ids. resolvers may be nil.
func Logging(logger *slog.Logger, resolvers *step.Resolvers) Middleware {
	return func(ctx context.Context, s *step.Step, next Handler) error {
		attrs := []any{
			slog.String("class", s.Class),
			slog.String("step_id", s.ID.String()),
			slog.String("queue", s.Queue),
			slog.String("group", s.Group),
		}
		if s.Relatable != nil && resolvers != nil {
			attrs = append(attrs, slog.String("relatable", resolvers.Describe(ctx, s.Relatable)))
		}

		logger.Info("step started", attrs...)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				append(attrs,
					slog.Duration("elapsed", elapsed),
					slog.Int("retries", s.Retries),
					slog.String("error", err.Error()),
				)...,
			)
		} else {
			logger.Info("step completed",
				append(attrs, slog.Duration("elapsed", elapsed))...,
			)
		}

		return err
	}
}
