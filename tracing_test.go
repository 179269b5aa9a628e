package eventscope

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest installs an in-memory exporter and W3C propagation.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	originalProvider := otel.GetTracerProvider()
	originalPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		otel.SetTracerProvider(originalProvider)
		otel.SetTextMapPropagator(originalPropagator)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})
	return exporter
}

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func TestDispatchSpans(t *testing.T) {
	exporter := setupTracingTest(t)

	r := NewRegistry()
	rec := NewRecordingHandler(nil)
	m, err := NewManager([]Handler{rec}, WithRegistry(r), WithManagerMetrics(false),
		WithExecutor(NewExecutor(WithExecutorMetrics(false))))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer m.Close()
	d := TestDispatcher(r, WithTracing(true), WithTracePropagation(true))

	payload := map[string]any{"id": "42"}
	err = m.Run(context.Background(), func(ctx context.Context) error {
		return d.Dispatch(ctx, "order_paid", WithPayload(payload))
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	spans := exporter.GetSpans()
	dispatched := findSpan(spans, "Event order_paid dispatched")
	if dispatched == nil {
		t.Fatalf("dispatch span missing, got %d spans", len(spans))
	}
	if dispatched.SpanKind != trace.SpanKindProducer {
		t.Errorf("expected producer span, got %s", dispatched.SpanKind)
	}

	handled := findSpan(spans, "handling event order_paid with *eventscope.RecordingHandler")
	if handled == nil {
		t.Fatal("handle span missing")
	}
	if handled.SpanKind != trace.SpanKindConsumer {
		t.Errorf("expected consumer span, got %s", handled.SpanKind)
	}
	if len(handled.Links) != 1 || handled.Links[0].SpanContext.SpanID() != dispatched.SpanContext.SpanID() {
		t.Errorf("expected handle span to link the dispatch span, got %v", handled.Links)
	}

	if _, ok := payload["traceparent"]; ok {
		t.Error("caller payload must not be modified")
	}
	got, _ := rec.Events()[0].Payload.(map[string]any)
	if _, ok := got["traceparent"]; !ok {
		t.Errorf("expected traceparent in delivered payload, got %v", got)
	}
}

func TestHandleSpanParentMode(t *testing.T) {
	exporter := setupTracingTest(t)

	ctx, producer := otel.Tracer("test").Start(context.Background(), "producer")
	payload := injectTraceContext(ctx, map[string]any{})
	producer.End()

	ctx, current := otel.Tracer("test").Start(context.Background(), "current")
	x := NewExecutor(WithExecutorMetrics(false), WithSpanLinking(false))
	if err := x.Run(ctx, []Handler{NewRecordingHandler(nil)}, []Event{{Name: "e", Payload: payload}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	current.End()

	handled := findSpan(exporter.GetSpans(), "handling event e with *eventscope.RecordingHandler")
	if handled == nil {
		t.Fatal("handle span missing")
	}
	if handled.Parent.SpanID() != producer.SpanContext().SpanID() {
		t.Errorf("expected producer as parent, got %s", handled.Parent.SpanID())
	}
	if len(handled.Links) != 1 || handled.Links[0].SpanContext.SpanID() != current.SpanContext().SpanID() {
		t.Errorf("expected current span link, got %v", handled.Links)
	}
}

func TestInjectTraceContext(t *testing.T) {
	t.Run("no span leaves payload untouched", func(t *testing.T) {
		payload := map[string]any{"a": 1}
		got := injectTraceContext(context.Background(), payload)
		if _, ok := got.(map[string]any)["traceparent"]; ok {
			t.Error("unexpected traceparent")
		}
	})

	t.Run("non-map payload untouched", func(t *testing.T) {
		setupTracingTest(t)
		ctx, span := otel.Tracer("test").Start(context.Background(), "s")
		defer span.End()
		if got := injectTraceContext(ctx, "plain"); got != "plain" {
			t.Errorf("expected plain, got %v", got)
		}
	})
}
