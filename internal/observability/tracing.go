package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "roma-engine"

// Tracer returns the engine tracer from the globally installed provider.
// Hosts that never install a provider get the otel default (noop spans).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// NoopTracer returns a tracer that records nothing, for tests and for
// embedding the engine without a tracing pipeline.
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(tracerName)
}

// StartNodeSpan opens a span for one task node solve.
func StartNodeSpan(ctx context.Context, tracer trace.Tracer, taskID string, depth int) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer()
	}
	return tracer.Start(ctx, "solver.node",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("task.depth", depth),
		))
}

// StartPredictorSpan opens a span around one predictor invocation.
func StartPredictorSpan(ctx context.Context, tracer trace.Tracer, role, taskID string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer()
	}
	return tracer.Start(ctx, "predictor.invoke",
		trace.WithAttributes(
			attribute.String("predictor.role", role),
			attribute.String("task.id", taskID),
		))
}
