package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/triagehq/triage/job"
)

// tracerName is the instrumentation scope name for triage tracing.
const tracerName = "github.com/triagehq/triage"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: triage.job.id, triage.job.type, triage.lane,
// triage.attempt, triage.max_attempts. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		ctx, span := tracer.Start(ctx, "triage.job.execute",
			trace.WithAttributes(
				attribute.String("triage.job.id", rec.ID.String()),
				attribute.String("triage.job.type", rec.Type),
				attribute.String("triage.lane", rec.Priority.String()),
				attribute.Int("triage.attempt", rec.AttemptCount),
				attribute.Int("triage.max_attempts", rec.MaxAttempts),
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
