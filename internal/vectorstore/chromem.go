package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("ragdocd.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go fallback
// store, used when no VECTOR_BACKEND_URL is configured (dev mode / tests).
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/ragdocd/vectorstore"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1536
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore is a Store implementation backed by the embeddable
// chromem-go vector database. All vectors are precomputed by the
// caller; chromem's own embedding path is never used.
type ChromemStore struct {
	db      *chromem.DB
	config  ChromemConfig
	logger  *zap.Logger
	metrics *Metrics

	dims sync.Map // collection name -> int, for EnsureCollection idempotency
}

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{db: db, config: config, logger: logger, metrics: NewMetrics(logger)}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
	)

	return store, nil
}

func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noopEmbeddingFunc satisfies chromem-go's embedding-function requirement
// for collections created with pre-computed vectors; Upsert always supplies
// the embedding itself, so this is never actually invoked for our
// collections, but chromem-go falls back to an OpenAI-backed default if a
// nil func is passed to a persisted collection, so a real func must be
// supplied.
func noopEmbeddingFunc(_ context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: embedding function invoked unexpectedly for text %q; vectors must be precomputed by the caller", text)
}

// EnsureCollection idempotently creates the collection.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dim int, _ Metric) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("dim", dim))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	if _, err := s.db.GetOrCreateCollection(name, nil, noopEmbeddingFunc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.dims.Store(name, dim)
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, noopEmbeddingFunc)
}

// Upsert stores vector with payload under id (assigning a UUID if id is
// empty).
func (s *ChromemStore) Upsert(ctx context.Context, collectionName, id string, vector []float32, payload map[string]interface{}) (string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if len(vector) == 0 {
		return "", ErrEmptyVector
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return "", err
	}

	collection := s.collection(collectionName)
	if collection == nil {
		return "", ErrCollectionNotFound
	}

	pointID := id
	if pointID == "" {
		pointID = uuid.New().String()
	}

	// chromem-go requires non-empty document content; we use the payload's
	// "content" field when present, otherwise the point id, since content
	// isn't used for similarity (the vector already is precomputed).
	content := pointID
	if c, ok := payload["content"].(string); ok && c != "" {
		content = c
	}

	doc := chromem.Document{
		ID:        pointID,
		Content:   content,
		Metadata:  convertMetadataToString(payload),
		Embedding: vector,
	}

	start := time.Now()
	err := collection.AddDocuments(ctx, []chromem.Document{doc}, 1)
	s.metrics.RecordOperation(ctx, "upsert", collectionName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("upserting into %s: %w", collectionName, err)
	}
	s.metrics.RecordDocuments(ctx, "add", collectionName, 1)

	span.SetStatus(codes.Ok, "success")
	return pointID, nil
}

// Search returns up to k hits scoring >= scoreMin, filtered by filter.
func (s *ChromemStore) Search(ctx context.Context, collectionName string, vector []float32, k int, scoreMin float32, filter Filter) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("k", k))

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}

	collection := s.collection(collectionName)
	if collection == nil {
		return nil, ErrCollectionNotFound
	}

	docCount := collection.Count()
	if docCount == 0 {
		return []Hit{}, nil
	}

	// chromem-go is always exact search, so over-fetching the whole
	// collection and filtering/truncating client-side is correct, not just
	// an approximation.
	queryK := docCount

	results, err := collection.QueryEmbedding(ctx, vector, queryK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", collectionName, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r.Similarity < scoreMin {
			continue
		}
		payload := convertMetadataFromString(r.Metadata)
		if !matches(payload, filter) {
			continue
		}
		hits = append(hits, Hit{PointID: r.ID, Score: r.Similarity, Payload: payload})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	s.metrics.RecordSearchResults(ctx, collectionName, len(hits))

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Scroll returns points matching filter with no similarity score.
func (s *ChromemStore) Scroll(ctx context.Context, collectionName string, filter Filter, limit, offset int) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Scroll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("limit", limit))

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}

	collection := s.collection(collectionName)
	if collection == nil {
		return nil, ErrCollectionNotFound
	}

	docCount := collection.Count()
	if docCount == 0 {
		return []Hit{}, nil
	}

	zeroVec := make([]float32, s.dimOf(collectionName))
	results, err := collection.QueryEmbedding(ctx, zeroVec, docCount, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling %s: %w", collectionName, err)
	}

	matched := make([]Hit, 0, len(results))
	for _, r := range results {
		payload := convertMetadataFromString(r.Metadata)
		if !matches(payload, filter) {
			continue
		}
		matched = append(matched, Hit{PointID: r.ID, Score: 1.0, Payload: payload})
	}
	sortHits(matched)

	if offset >= len(matched) {
		return []Hit{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	span.SetStatus(codes.Ok, "success")
	return matched[offset:end], nil
}

func (s *ChromemStore) dimOf(collectionName string) int {
	if v, ok := s.dims.Load(collectionName); ok {
		return v.(int)
	}
	return s.config.VectorSize
}

// DeleteByFilter bulk-deletes all points matching filter.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, collectionName string, filter Filter) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if len(filter) == 0 {
		return fmt.Errorf("%w: delete requires a non-empty filter", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	collection := s.collection(collectionName)
	if collection == nil {
		return ErrCollectionNotFound
	}

	docCount := collection.Count()
	if docCount == 0 {
		return nil
	}

	zeroVec := make([]float32, s.dimOf(collectionName))
	results, err := collection.QueryEmbedding(ctx, zeroVec, docCount, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("scanning %s for delete: %w", collectionName, err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if matches(convertMetadataFromString(r.Metadata), filter) {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", collectionName, err)
	}
	s.metrics.RecordDocuments(ctx, "delete", collectionName, len(ids))

	span.SetAttributes(attribute.Int("deleted_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of points in collection.
func (s *ChromemStore) Count(ctx context.Context, collectionName string) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	if err := ValidateCollectionName(collectionName); err != nil {
		return 0, err
	}

	collection := s.collection(collectionName)
	if collection == nil {
		return 0, ErrCollectionNotFound
	}

	span.SetStatus(codes.Ok, "success")
	return collection.Count(), nil
}

// Close releases resources. chromem-go persists synchronously, so there is
// nothing to flush here.
func (s *ChromemStore) Close() error {
	return nil
}

// convertMetadataToString converts map[string]interface{} to
// map[string]string, since chromem-go stores metadata as plain strings.
func convertMetadataToString(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}

	result := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = fmt.Sprintf("%d", val)
		case int64:
			result[k] = fmt.Sprintf("%d", val)
		case float64:
			result[k] = fmt.Sprintf("%f", val)
		case bool:
			result[k] = fmt.Sprintf("%t", val)
		case []string:
			result[k] = strings.Join(val, ",")
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// convertMetadataFromString converts map[string]string back to
// map[string]interface{}.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	result := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if strings.Contains(v, ",") {
			result[k] = strings.Split(v, ",")
			continue
		}
		result[k] = v
	}
	return result
}

var _ Store = (*ChromemStore)(nil)
