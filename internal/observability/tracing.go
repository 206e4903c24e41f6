// ABOUTME: OpenTelemetry spans around channel sends
// ABOUTME: Resolves the tracer from the global provider at call time

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSendSpan starts a span covering the fan-out of one envelope.
func StartSendSpan(ctx context.Context, id string, transports int) (context.Context, trace.Span) {
	return otel.Tracer("redub").Start(ctx, "redub.send",
		trace.WithAttributes(
			attribute.String("envelope.id", id),
			attribute.Int("transports", transports),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
