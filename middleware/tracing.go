package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/martingalian/stride/step"
)

// tracerName is the instrumentation scope name for stride tracing.
const tracerName = "github.com/martingalian/stride"

// Tracing returns middleware that wraps step execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: stride.step.id, stride.step.class, stride.queue,
// stride.group, stride.retries, stride.exec_mode. On error, the span status
// is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, s *step.Step, next Handler) error {
		ctx, span := tracer.Start(ctx, "stride.step.execute",
			trace.WithAttributes(
				attribute.String("stride.step.id", s.ID.String()),
				attribute.String("stride.step.class", s.Class),
				attribute.String("stride.queue", s.Queue),
				attribute.String("stride.group", s.Group),
				attribute.Int("stride.retries", s.Retries),
				attribute.String("stride.exec_mode", string(s.ExecMode)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
