package eventscope

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbaliyan/eventscope"

// metrics holds the OpenTelemetry instruments shared by the dispatcher,
// the manager and the executor. A nil *metrics records nothing.
type metrics struct {
	dispatched metric.Int64Counter
	buffered   metric.Int64Counter
	scheduled  metric.Int64Counter
	handled    metric.Int64Counter
	failed     metric.Int64Counter
	drained    metric.Int64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	m := &metrics{}
	m.dispatched, _ = meter.Int64Counter("eventscope.dispatched",
		metric.WithDescription("Number of events accepted by dispatch"),
		metric.WithUnit("{event}"))
	m.buffered, _ = meter.Int64Counter("eventscope.buffered",
		metric.WithDescription("Number of events buffered into an open scope"),
		metric.WithUnit("{event}"))
	m.scheduled, _ = meter.Int64Counter("eventscope.scheduled",
		metric.WithDescription("Number of events scheduled for detached fan-out"),
		metric.WithUnit("{event}"))
	m.handled, _ = meter.Int64Counter("eventscope.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
		metric.WithUnit("{invocation}"))
	m.failed, _ = meter.Int64Counter("eventscope.handler.failures",
		metric.WithDescription("Number of failed handler invocations"),
		metric.WithUnit("{invocation}"))
	m.drained, _ = meter.Int64Histogram("eventscope.scope.drained",
		metric.WithDescription("Number of events drained when a scope closes"),
		metric.WithUnit("{event}"))
	return m
}

func (m *metrics) recordDispatch(ctx context.Context, name string, buffered bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event", name))
	m.dispatched.Add(ctx, 1, attrs)
	if buffered {
		m.buffered.Add(ctx, 1, attrs)
	} else {
		m.scheduled.Add(ctx, 1, attrs)
	}
}

func (m *metrics) recordInvocation(ctx context.Context, handler string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("handler", handler))
	m.handled.Add(ctx, 1, attrs)
	if err != nil {
		m.failed.Add(ctx, 1, attrs)
	}
}

func (m *metrics) recordDrain(ctx context.Context, scopeID string, n int) {
	if m == nil {
		return
	}
	m.drained.Record(ctx, int64(n), metric.WithAttributes(attribute.String("scope", scopeID)))
}
