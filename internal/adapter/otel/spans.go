package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentforge"

// StartTriggerRunSpan starts a span for one trigger run.
func StartTriggerRunSpan(ctx context.Context, triggerID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "trigger.run",
		trace.WithAttributes(
			attribute.String("trigger.id", triggerID),
			attribute.String("trigger.type", kind),
		),
	)
}

// StartToolCallSpan starts a span for a tool call.
func StartToolCallSpan(ctx context.Context, integrationID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("integration.id", integrationID),
			attribute.String("tool.name", tool),
		),
	)
}

// StartGenerationSpan starts a span around a model call.
func StartGenerationSpan(ctx context.Context, op, agentID, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent."+op,
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("llm.model", model),
		),
	)
}

// TTFB is a span measuring time to the first streamed chunk. End is safe to
// call more than once; only the first call ends the span.
type TTFB struct {
	span trace.Span
	once sync.Once
}

// StartTTFB starts the time-to-first-byte span.
func StartTTFB(ctx context.Context, agentID, model string) *TTFB {
	_, span := otel.Tracer(tracerName).Start(ctx, "agent.stream.ttfb",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("llm.model", model),
		),
	)
	return &TTFB{span: span}
}

// End closes the span.
func (t *TTFB) End() {
	t.once.Do(func() { t.span.End() })
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
