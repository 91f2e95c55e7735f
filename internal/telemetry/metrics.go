package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for agentdata spans and metrics.
var (
	AttrRecordID    = attribute.Key("agentdata.record.id")
	AttrAgentID     = attribute.Key("agentdata.agent.id")
	AttrSyncStatus  = attribute.Key("agentdata.sync.status")
	AttrBatchSize   = attribute.Key("agentdata.sync.batch_size")
	AttrContentHash = attribute.Key("agentdata.content.hash")
)

// Metrics holds the agentdata metric instruments.
type Metrics struct {
	CycleDuration   metric.Float64Histogram
	WriteDuration   metric.Float64Histogram
	RecordsSynced   metric.Int64Counter
	RecordsIngested metric.Int64Counter
	NotifyDropped   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CycleDuration, err = meter.Float64Histogram("agentdata.sync.cycle.duration",
		metric.WithDescription("Sync cycle duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WriteDuration, err = meter.Float64Histogram("agentdata.sync.write.duration",
		metric.WithDescription("Content store write duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsSynced, err = meter.Int64Counter("agentdata.sync.records",
		metric.WithDescription("Records processed by the sync engine, by resulting status"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsIngested, err = meter.Int64Counter("agentdata.ingress.records",
		metric.WithDescription("Records accepted by the ingress API"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter("agentdata.notify.dropped",
		metric.WithDescription("Sync events dropped because a subscriber was too slow"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(Noop().Meter)
	if err != nil {
		panic(err)
	}
	return m
}

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call to the content store.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
