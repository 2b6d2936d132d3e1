// Package orchestrator implements the vectorization pipeline: it
// composes the embedding client, vector store, metadata store, auto-tag
// enricher, and versioner into the Vectorize/BatchVectorize operations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragdocd/internal/versioner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragdocd/internal/orchestrator"

// Sentinel errors; the message doubles as the error kind surfaced to
// clients.
var (
	ErrInvalidInput           = errors.New("InvalidInput")
	ErrEmbeddingUnavailable   = errors.New("EmbeddingUnavailable")
	ErrEmbeddingDimMismatch   = errors.New("EmbeddingDimensionMismatch")
	ErrVectorStoreUnavailable = errors.New("VectorStoreUnavailable")
	ErrTimeout                = errors.New("Timeout")
)

// Embedder is the subset of internal/embeddings.Client this package
// depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float32, tokenCount int, model string, err error)
}

// TagEnricher is the subset of internal/autotag.Enricher this package
// depends on.
type TagEnricher interface {
	EnhanceWithTags(ctx context.Context, docID, content string, existing metadatastore.Metadata, maxTags int) metadatastore.Metadata
}

// Status is the document's vectorStatus value.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the outcome of a single Vectorize call.
type Result struct {
	DocID       string
	Status      string // "success" or "failed"
	VectorID    string
	Error       string
	LatencyMS   int64
	MetSLO      bool
}

// Doc is one input document to BatchVectorize.
type Doc struct {
	DocID    string
	Content  string
	Metadata metadatastore.Metadata
}

// BatchResult is the outcome of a BatchVectorize call.
type BatchResult struct {
	Total      int
	Successful int
	Failed     int
	Status     string // "success", "failed", or "partial_success"
	Results    []Result
}

// Config configures the orchestrator.
type Config struct {
	// Dimension is the configured embedding dimension D.
	Dimension int

	// Collection is the vector store collection name.
	Collection string

	// Timeout bounds a single Vectorize call (default 30s).
	Timeout time.Duration

	// BatchConcurrency bounds BatchVectorize fan-out (default 10).
	BatchConcurrency int64

	// BatchTimeout bounds the whole BatchVectorize call.
	BatchTimeout time.Duration

	// PerformanceTargetMS is an operational latency target, recorded per
	// result but never asserted. Zero means MetSLO is always true.
	PerformanceTargetMS int64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = 10
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 2 * time.Minute
	}
}

// Service is the vectorization orchestrator.
type Service struct {
	config     Config
	embedder   Embedder
	vectors    vectorstore.Store
	metadata   metadatastore.Store
	enricher   TagEnricher
	logger     *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	vectorizeTotal  metric.Int64Counter
	vectorizeFailed metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// New creates an orchestrator Service. enricher may be nil, in which
// case autoTag requests are silently skipped.
func New(config Config, embedder Embedder, vectors vectorstore.Store, metadata metadatastore.Store, enricher TagEnricher, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:   config,
		embedder: embedder,
		vectors:  vectors,
		metadata: metadata,
		enricher: enricher,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	s.vectorizeTotal, err = s.meter.Int64Counter(
		"ragdocd.vectorize.total",
		metric.WithDescription("Total number of Vectorize calls"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		s.logger.Warn("failed to create vectorize counter", zap.Error(err))
	}

	s.vectorizeFailed, err = s.meter.Int64Counter(
		"ragdocd.vectorize.failed_total",
		metric.WithDescription("Total number of failed Vectorize calls"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		s.logger.Warn("failed to create vectorize-failed counter", zap.Error(err))
	}
}

// Close marks the service closed; further Vectorize calls fail fast.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Vectorize runs the per-document pipeline: auto-tag enrichment,
// embedding, vector upsert, then versioned metadata write.
func (s *Service) Vectorize(ctx context.Context, docID, content string, metadata metadatastore.Metadata, tag string, updateMetadata, autoTag bool) Result {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "orchestrator.Vectorize")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	if s.vectorizeTotal != nil {
		s.vectorizeTotal.Add(ctx, 1)
	}

	result := s.vectorize(ctx, docID, content, metadata, tag, updateMetadata, autoTag)
	result.LatencyMS = time.Since(start).Milliseconds()
	if s.config.PerformanceTargetMS > 0 {
		result.MetSLO = result.LatencyMS <= s.config.PerformanceTargetMS
	} else {
		result.MetSLO = true
	}

	if result.Status != "success" {
		if s.vectorizeFailed != nil {
			s.vectorizeFailed.Add(ctx, 1)
		}
		span.RecordError(errors.New(result.Error))
		span.SetStatus(codes.Error, result.Error)
	}

	return result
}

func (s *Service) vectorize(ctx context.Context, docID, content string, metadata metadatastore.Metadata, tag string, updateMetadata, autoTag bool) Result {
	if docID == "" || content == "" {
		return Result{DocID: docID, Status: "failed", Error: fmt.Sprintf("%s: doc_id and content are required", ErrInvalidInput)}
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return Result{DocID: docID, Status: "failed", Error: "orchestrator is closed"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if metadata == nil {
		metadata = metadatastore.Metadata{}
	}
	metadata = metadata.Clone()
	metadata["doc_id"] = docID

	if autoTag && s.enricher != nil {
		metadata = s.enricher.EnhanceWithTags(ctx, docID, content, metadata, 5)
	}

	vector, _, _, err := s.embedder.Embed(ctx, content)
	if err != nil {
		errMsg := fmt.Sprintf("%s: %v", timeoutOr(ctx, ErrEmbeddingUnavailable.Error()), err)
		if !deadlineExpired(ctx) {
			s.markFailed(ctx, docID, metadata, updateMetadata, errMsg)
		}
		return Result{DocID: docID, Status: "failed", Error: errMsg}
	}
	if s.config.Dimension > 0 && len(vector) != s.config.Dimension {
		errMsg := fmt.Sprintf("%s: got %d want %d", ErrEmbeddingDimMismatch, len(vector), s.config.Dimension)
		s.markFailed(ctx, docID, metadata, updateMetadata, errMsg)
		return Result{DocID: docID, Status: "failed", Error: errMsg}
	}

	payload := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["doc_id"] = docID
	if tag != "" {
		payload["tag"] = tag
	}

	pointID, err := s.vectors.Upsert(ctx, s.config.Collection, "", vector, payload)
	if err != nil {
		errMsg := fmt.Sprintf("%s: %v", timeoutOr(ctx, ErrVectorStoreUnavailable.Error()), err)
		if !deadlineExpired(ctx) {
			s.markFailed(ctx, docID, metadata, updateMetadata, errMsg)
		}
		return Result{DocID: docID, Status: "failed", Error: errMsg}
	}

	if !updateMetadata {
		return Result{DocID: docID, Status: "success", VectorID: pointID}
	}

	prior, _, err := s.metadata.Get(ctx, docID)
	if err != nil {
		s.compensate(ctx, docID, pointID, metadata)
		return Result{DocID: docID, Status: "failed", Error: fmt.Sprintf("%s: %v", timeoutOr(ctx, "MetadataStoreUnavailable"), err)}
	}

	merged := mergeOntoPrior(prior, metadata)
	merged["doc_id"] = docID
	merged["vectorStatus"] = string(StatusCompleted)
	merged["vector_id"] = pointID

	final, _, err := versioner.Apply(merged, prior)
	if err != nil {
		s.compensate(ctx, docID, pointID, metadata)
		return Result{DocID: docID, Status: "failed", Error: fmt.Sprintf("%v", err)}
	}

	if err := s.metadata.Set(ctx, docID, final); err != nil {
		s.compensate(ctx, docID, pointID, metadata)
		return Result{DocID: docID, Status: "failed", Error: fmt.Sprintf("%s: %v", timeoutOr(ctx, "MetadataStoreUnavailable"), err)}
	}

	return Result{DocID: docID, Status: "success", VectorID: pointID}
}

func deadlineExpired(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// timeoutOr reports the error kind for a failed pipeline stage: once the
// per-document deadline has expired, every stage reports Timeout rather
// than the kind it would otherwise carry, whichever call happened to
// observe the cancellation first.
func timeoutOr(ctx context.Context, kind string) string {
	if deadlineExpired(ctx) {
		return ErrTimeout.Error()
	}
	return kind
}

// mergeOntoPrior layers the incoming metadata over the prior record so
// fields omitted by a re-ingest survive. The prior's own version is
// dropped unless the caller explicitly supplied one: the versioner
// treats a present "version" key as a caller assertion that must equal
// prior+1, and the prior's carried-over value would always fail that
// check.
func mergeOntoPrior(prior, metadata metadatastore.Metadata) metadatastore.Metadata {
	merged := prior.Clone()
	if merged == nil {
		merged = metadatastore.Metadata{}
	}
	if _, callerSupplied := metadata["version"]; !callerSupplied {
		delete(merged, "version")
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return merged
}

// markFailed persists a vectorStatus=failed record when updateMetadata is
// set. Failure to persist is logged but does not change the outcome
// already being reported to the caller.
func (s *Service) markFailed(ctx context.Context, docID string, metadata metadatastore.Metadata, updateMetadata bool, reason string) {
	if !updateMetadata {
		return
	}
	prior, _, _ := s.metadata.Get(ctx, docID)
	merged := mergeOntoPrior(prior, metadata)
	merged["doc_id"] = docID
	merged["vectorStatus"] = string(StatusFailed)
	merged["error"] = reason

	final, _, err := versioner.Apply(merged, prior)
	if err != nil {
		s.logger.Warn("failed to version failed-status metadata", zap.String("doc_id", docID), zap.Error(err))
		return
	}
	if err := s.metadata.Set(ctx, docID, final); err != nil {
		s.logger.Warn("failed to persist failed-status metadata", zap.String("doc_id", docID), zap.Error(err))
	}
}

// compensate deletes the just-upserted vector point when the metadata
// write fails: vector first, metadata second; on metadata failure the
// vector is rolled back so no point exists without a completed record.
// If the compensating delete itself fails, a CRITICAL log entry is
// emitted carrying both the orphan vector ID and the intended metadata,
// for async reconciliation.
func (s *Service) compensate(ctx context.Context, docID, pointID string, metadata metadatastore.Metadata) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.vectors.DeleteByFilter(cleanupCtx, s.config.Collection, vectorstore.Filter{"doc_id": docID})
	if err != nil {
		s.logger.Error("failed to compensate orphan vector after metadata failure",
			zap.String("doc_id", docID),
			zap.String("orphan_vector_id", pointID),
			zap.Any("intended_metadata", map[string]interface{}(metadata)),
			zap.Bool("critical", true),
			zap.Error(err),
		)
	}
}

// Delete removes a document: the vector point first, then the metadata
// record. Vector points are owned by this service; deleting metadata
// first would break the completed-implies-vector invariant for readers
// racing the delete.
func (s *Service) Delete(ctx context.Context, docID string) error {
	if docID == "" {
		return fmt.Errorf("%w: doc_id is required", ErrInvalidInput)
	}
	ctx, span := s.tracer.Start(ctx, "orchestrator.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	if err := s.vectors.DeleteByFilter(ctx, s.config.Collection, vectorstore.Filter{"doc_id": docID}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %v", ErrVectorStoreUnavailable, err)
	}
	if err := s.metadata.Delete(ctx, docID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("MetadataStoreUnavailable: %v", err)
	}
	return nil
}

// BatchVectorize fans out per-document vectorizations with bounded
// concurrency (≤ BatchConcurrency), validating each document's shape
// before dispatch, under an overall batch deadline. Invalid entries
// produce per-doc failures without aborting the batch.
func (s *Service) BatchVectorize(ctx context.Context, docs []Doc, tag string, updateMetadata, autoTag bool) BatchResult {
	if len(docs) == 0 {
		return BatchResult{Status: "failed", Results: []Result{{Status: "failed", Error: ErrInvalidInput.Error() + ": empty batch"}}}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.BatchTimeout)
	defer cancel()

	results := make([]Result, len(docs))
	sem := semaphore.NewWeighted(s.config.BatchConcurrency)

	var wg sync.WaitGroup
	for i, doc := range docs {
		i, doc := i, doc

		if doc.DocID == "" || doc.Content == "" {
			results[i] = Result{DocID: doc.DocID, Status: "failed", Error: fmt.Sprintf("%s: doc_id and content are required", ErrInvalidInput)}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{DocID: doc.DocID, Status: "failed", Error: fmt.Sprintf("%s: %v", ErrTimeout, err)}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.Vectorize(ctx, doc.DocID, doc.Content, doc.Metadata, tag, updateMetadata, autoTag)
		}()
	}
	wg.Wait()

	batch := BatchResult{Total: len(docs), Results: results}
	for _, r := range results {
		if r.Status == "success" {
			batch.Successful++
		} else {
			batch.Failed++
		}
	}
	switch {
	case batch.Failed == 0:
		batch.Status = "success"
	case batch.Successful == 0:
		batch.Status = "failed"
	default:
		batch.Status = "partial_success"
	}
	return batch
}
