package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, system, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Item outcomes reported by IngestMetrics
const (
	OutcomeReceived   = "received"
	OutcomeNormalized = "normalized"
	OutcomeDuplicate  = "duplicate"
	OutcomeStored     = "stored"
	OutcomeFailed     = "failed"
)

// IngestMetrics holds the sync pipeline counters
type IngestMetrics struct {
	items          metric.Int64Counter
	batches        metric.Int64Counter
	auditDeleted   metric.Int64Counter
	auditUpdated   metric.Int64Counter
	partitionsOpen metric.Int64UpDownCounter
}

// NewIngestMetrics creates ingest metrics instruments
func NewIngestMetrics() (*IngestMetrics, error) {
	meter := otel.Meter(instrumentationName)

	items, err := meter.Int64Counter(
		"devicevault.ingest.items",
		metric.WithDescription("Batch items by pipeline outcome"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	batches, err := meter.Int64Counter(
		"devicevault.ingest.batches",
		metric.WithDescription("Total number of sync batches"),
		metric.WithUnit("{batches}"),
	)
	if err != nil {
		return nil, err
	}

	auditDeleted, err := meter.Int64Counter(
		"devicevault.audit.deleted",
		metric.WithDescription("Duplicate records removed by the auditor"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	auditUpdated, err := meter.Int64Counter(
		"devicevault.audit.updated",
		metric.WithDescription("Records whose stored fingerprint was rewritten by the auditor"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	partitionsOpen, err := meter.Int64UpDownCounter(
		"devicevault.partitions.open",
		metric.WithDescription("Partition handles held in memory"),
		metric.WithUnit("{partitions}"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestMetrics{
		items:          items,
		batches:        batches,
		auditDeleted:   auditDeleted,
		auditUpdated:   auditUpdated,
		partitionsOpen: partitionsOpen,
	}, nil
}

// RecordItems adds n items with the given outcome
func (m *IngestMetrics) RecordItems(ctx context.Context, dataType, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.items.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("data_type", dataType),
		attribute.String("outcome", outcome),
	))
}

// RecordBatch records one processed batch
func (m *IngestMetrics) RecordBatch(ctx context.Context, dataType string, success bool) {
	if m == nil {
		return
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("data_type", dataType),
		attribute.Bool("success", success),
	))
}

// RecordAudit records the outcome of auditing one partition
func (m *IngestMetrics) RecordAudit(ctx context.Context, dataType string, deleted, updated int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("data_type", dataType))
	m.auditDeleted.Add(ctx, int64(deleted), attrs)
	m.auditUpdated.Add(ctx, int64(updated), attrs)
}

// PartitionOpened tracks registry size; pass -1 on eviction
func (m *IngestMetrics) PartitionOpened(ctx context.Context, delta int) {
	if m == nil {
		return
	}
	m.partitionsOpen.Add(ctx, int64(delta))
}
