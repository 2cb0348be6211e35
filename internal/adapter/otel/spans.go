package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "opforge"

// StartRunSpan starts a span covering a whole sequence run.
func StartRunSpan(ctx context.Context, runID, sequence, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.sequence", sequence),
			attribute.String("run.target", target),
		),
	)
}

// StartStepSpan starts a span for one step within a run.
func StartStepSpan(ctx context.Context, runID string, stepIndex int, stepName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("step.index", stepIndex),
			attribute.String("step.name", stepName),
		),
	)
}

// StartJobSpan starts a span for one job attempt against the remote API.
func StartJobSpan(ctx context.Context, runID string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job.attempt",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("job.attempt", attempt),
		),
	)
}
