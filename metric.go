package redist

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "redist"

const (
	spanKeyRole     = "redist.role"
	spanKeyStrategy = "redist.strategy"
	spanKeyRank     = "redist.rank"
	spanKeyTag      = "redist.tag"
	spanKeyComm     = "redist.comm"
	spanKeyMerge    = "redist.merge"
)

// metrics holds the component counters. Every method is safe on a nil
// receiver, which is what a component with metrics disabled holds.
type metrics struct {
	processed     metric.Int64Counter
	itemsSent     metric.Int64Counter
	bytesSent     metric.Int64Counter
	messages      metric.Int64Counter
	transit       metric.Int64Counter
	mergeFailures metric.Int64Counter
	attrs         metric.MeasurementOption
}

func newMetrics(strategy string) *metrics {
	meter := otel.Meter(instrumentationName)
	processed, _ := meter.Int64Counter("redist.processed",
		metric.WithDescription("Number of completed Process calls"),
		metric.WithUnit("{call}"),
	)
	itemsSent, _ := meter.Int64Counter("redist.items.sent",
		metric.WithDescription("Number of items sent to destinations"),
		metric.WithUnit("{item}"),
	)
	bytesSent, _ := meter.Int64Counter("redist.bytes.sent",
		metric.WithDescription("Payload bytes handed to the transport"),
		metric.WithUnit("By"),
	)
	messages, _ := meter.Int64Counter("redist.messages.received",
		metric.WithDescription("Number of data messages received"),
		metric.WithUnit("{message}"),
	)
	transit, _ := meter.Int64Counter("redist.transit",
		metric.WithDescription("Number of chunks kept in-process"),
		metric.WithUnit("{chunk}"),
	)
	mergeFailures, _ := meter.Int64Counter("redist.merge.failures",
		metric.WithDescription("Number of failed merges"),
		metric.WithUnit("{merge}"),
	)
	return &metrics{
		processed:     processed,
		itemsSent:     itemsSent,
		bytesSent:     bytesSent,
		messages:      messages,
		transit:       transit,
		mergeFailures: mergeFailures,
		attrs:         metric.WithAttributes(attribute.String(spanKeyStrategy, strategy)),
	}
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, n int, attrs ...attribute.KeyValue) {
	if m == nil || c == nil {
		return
	}
	if len(attrs) > 0 {
		c.Add(ctx, int64(n), m.attrs, metric.WithAttributes(attrs...))
		return
	}
	c.Add(ctx, int64(n), m.attrs)
}

func (m *metrics) Processed(ctx context.Context, role Role) {
	if m != nil {
		m.add(ctx, m.processed, 1, attribute.String(spanKeyRole, role.String()))
	}
}

func (m *metrics) Sent(ctx context.Context, items, bytes int) {
	if m != nil {
		m.add(ctx, m.itemsSent, items)
		m.add(ctx, m.bytesSent, bytes)
	}
}

func (m *metrics) Received(ctx context.Context) {
	if m != nil {
		m.add(ctx, m.messages, 1)
	}
}

func (m *metrics) Transit(ctx context.Context) {
	if m != nil {
		m.add(ctx, m.transit, 1)
	}
}

func (m *metrics) MergeFailed(ctx context.Context) {
	if m != nil {
		m.add(ctx, m.mergeFailures, 1)
	}
}

// newTracer returns the component tracer, a no-op one when tracing is off.
func newTracer(enabled bool) trace.Tracer {
	if !enabled {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return otel.Tracer(instrumentationName)
}

// endSpan records err on span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
