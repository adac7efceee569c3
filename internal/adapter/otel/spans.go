package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sprintpilot"

// StartSessionSpan starts a span covering one execution session.
func StartSessionSpan(ctx context.Context, sessionID, targetID, unit string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("target.id", targetID),
			attribute.String("session.unit", unit),
		),
	)
}

// StartPhaseSpan starts a span for one lifecycle phase within a session.
func StartPhaseSpan(ctx context.Context, sessionID, phase string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "phase",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("phase", phase),
		),
	)
}
