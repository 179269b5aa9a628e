package eventscope

import (
	"context"
	"fmt"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rbaliyan/eventscope"

const (
	spanKeyEventName  = "event.name"
	spanKeyEventCount = "event.count"
	spanKeyScopeID    = "scope.id"
	spanKeyHandler    = "event.handler"
)

// payloadCarrier exposes the string values of a map payload to an
// OpenTelemetry propagator.
type payloadCarrier map[string]any

var _ propagation.TextMapCarrier = payloadCarrier(nil)

func (c payloadCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c payloadCarrier) Set(key, value string) {
	c[key] = value
}

func (c payloadCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k, v := range c {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func startDispatchSpan(ctx context.Context, name, scopeID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, fmt.Sprintf("Event %s dispatched", name),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(spanKeyEventName, name),
			attribute.String(spanKeyScopeID, scopeID),
		))
}

// startHandleSpan starts a consumer span for one handler invocation.
//
// A trace context carried in a map payload is linked to the new span when
// linking is true. Otherwise it becomes the parent and the span active in
// ctx is linked instead.
func startHandleSpan(ctx context.Context, handler string, events []Event, linking bool) (context.Context, trace.Span) {
	var spanName string
	attrs := []attribute.KeyValue{attribute.String(spanKeyHandler, handler)}
	if len(events) == 1 {
		spanName = fmt.Sprintf("handling event %s with %s", events[0].Name, handler)
		attrs = append(attrs, attribute.String(spanKeyEventName, events[0].Name))
	} else {
		spanName = fmt.Sprintf("handling %d events with %s", len(events), handler)
		attrs = append(attrs, attribute.Int(spanKeyEventCount, len(events)))
	}
	if id := ScopeID(ctx); id != "" {
		attrs = append(attrs, attribute.String(spanKeyScopeID, id))
	}

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	}
	for _, ev := range events {
		remote := remoteSpanContext(ev.Payload)
		if !remote.IsValid() {
			continue
		}
		if linking || len(events) > 1 {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
			continue
		}
		if current := trace.SpanContextFromContext(ctx); current.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: current}))
		}
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func remoteSpanContext(payload any) trace.SpanContext {
	m, ok := payload.(map[string]any)
	if !ok || len(m) == 0 {
		return trace.SpanContext{}
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), payloadCarrier(m))
	return trace.SpanContextFromContext(ctx)
}

// injectTraceContext returns a copy of payload carrying the trace context of
// ctx. Non-map payloads and contexts without a valid span are returned as is.
func injectTraceContext(ctx context.Context, payload any) any {
	m, ok := payload.(map[string]any)
	if !ok || !trace.SpanContextFromContext(ctx).IsValid() {
		return payload
	}
	out := maps.Clone(m)
	if out == nil {
		out = make(map[string]any)
	}
	otel.GetTextMapPropagator().Inject(ctx, payloadCarrier(out))
	return out
}
