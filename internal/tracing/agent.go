package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const agentTracerName = "juncture-agent"

func agentTracer() trace.Tracer {
	return Tracer(agentTracerName)
}

// TraceAgentCall starts a span for one RPC to the agent subprocess.
// Caller must call span.End() when the response arrives.
func TraceAgentCall(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := agentTracer().Start(ctx, "agent."+method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(attribute.String("rpc.method", method))
	return ctx, span
}

// TraceAgentCallResult records the outcome of an agent RPC on its span.
func TraceAgentCallResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceTurn starts a span covering a full turn, from turn/start to its
// terminal outcome.
func TraceTurn(ctx context.Context, sessionID, turnID, model string) (context.Context, trace.Span) {
	ctx, span := agentTracer().Start(ctx, "agent.turn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("turn_id", turnID),
		attribute.String("model", model),
	)
	return ctx, span
}
