package vectorstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const vectorstoreInstrumentationName = "github.com/fyrsmithlabs/ragdocd/internal/vectorstore"

// Metrics holds all vector-store-related metrics: a meter plus one
// instrument per concern, all initialized up front in init().
type Metrics struct {
	meter         metric.Meter
	logger        *zap.Logger
	duration      metric.Float64Histogram
	errors        metric.Int64Counter
	documents     metric.Int64Counter
	searchResults metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance for the vector store.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(vectorstoreInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"ragdocd.vectorstore.operation_duration_seconds",
		metric.WithDescription("Duration of vector store operations in seconds, labeled by operation and collection"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create operation duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"ragdocd.vectorstore.errors_total",
		metric.WithDescription("Total vector store operation errors, labeled by operation and collection"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.documents, err = m.meter.Int64Counter(
		"ragdocd.vectorstore.documents_total",
		metric.WithDescription("Total documents added to or deleted from the vector store, labeled by operation and collection"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		m.logger.Warn("failed to create documents counter", zap.Error(err))
	}

	m.searchResults, err = m.meter.Int64Histogram(
		"ragdocd.vectorstore.search_results",
		metric.WithDescription("Number of hits returned per search, labeled by collection"),
		metric.WithUnit("{hit}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create search results histogram", zap.Error(err))
	}
}

// RecordOperation records the duration and outcome of a vector store
// operation (e.g. "search", "upsert", "delete_by_filter").
func (m *Metrics) RecordOperation(ctx context.Context, operation, collection string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("collection", collection),
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDocuments records a document count change for operation (e.g.
// "add", "delete") against collection.
func (m *Metrics) RecordDocuments(ctx context.Context, operation, collection string, count int) {
	if m == nil || m.documents == nil || count == 0 {
		return
	}
	m.documents.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("collection", collection),
	))
}

// RecordSearchResults records how many hits a search against collection
// returned.
func (m *Metrics) RecordSearchResults(ctx context.Context, collection string, count int) {
	if m == nil || m.searchResults == nil {
		return
	}
	m.searchResults.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("collection", collection),
	))
}
