package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/forwarder"

// Tracer provides OpenTelemetry spans for dispatches and deliveries. It uses
// the global tracer provider, so spans are no-ops until one is installed.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDispatchSpan starts the parent span for one inbound webhook.
func (t *Tracer) StartDispatchSpan(ctx context.Context, dispatchID, routePath string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookrelay.dispatch",
		trace.WithAttributes(
			attribute.String("hookrelay.dispatch_id", dispatchID),
			attribute.String("hookrelay.route", routePath),
		),
	)
}

// StartDeliverySpan starts a span for one target delivery.
func (t *Tracer) StartDeliverySpan(ctx context.Context, attemptID, targetID, targetType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookrelay.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hookrelay.attempt_id", attemptID),
			attribute.String("hookrelay.target_id", targetID),
			attribute.String("hookrelay.target_type", targetType),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("hookrelay.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("hookrelay.error", err))
		span.SetStatus(codes.Error, err)
	}
	span.End()
}
