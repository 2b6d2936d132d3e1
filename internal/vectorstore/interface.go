// Package vectorstore implements the vector store adapter: collection
// lifecycle, similarity search, filtered scroll, and bulk delete
// against a similarity engine, with a keyword payload index on "tag"
// created at collection init.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyVector indicates an upsert with a nil vector.
	ErrEmptyVector = errors.New("empty or nil vector")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrUnavailable wraps a persistent store failure; the caller decides
	// whether to mark the document failed or abort the whole batch.
	ErrUnavailable = errors.New("VectorStoreUnavailable")
)

// Metric names the similarity metric used by a collection.
type Metric int

const (
	Cosine Metric = iota
	Euclid
	Dot
)

// Filter is a conjunction of equality/"in" predicates over payload
// fields: AND across keys; for a key whose payload value is a list, the
// filter matches if any element equals the predicate value.
type Filter map[string]interface{}

// Hit is one result from Search or Scroll.
type Hit struct {
	PointID string
	Score   float32
	Payload map[string]interface{}
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name       string
	PointCount int
	VectorSize int
}

// Store is the backend-agnostic vector store adapter.
type Store interface {
	// EnsureCollection creates the collection and a keyword index on the
	// "tag" payload field, idempotently.
	EnsureCollection(ctx context.Context, name string, dim int, metric Metric) error

	// Upsert stores vector with payload under id, generating a UUID if id
	// is empty. doc_id is mirrored into the payload by the caller before
	// calling Upsert (the store does not know about doc semantics).
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) (string, error)

	// Search returns up to k hits with score >= scoreMin, filtered by
	// filter, sorted by score descending (ties broken by point_id
	// lexicographically).
	Search(ctx context.Context, collection string, vector []float32, k int, scoreMin float32, filter Filter) ([]Hit, error)

	// Scroll returns points matching filter with no similarity score
	// (Hit.Score is reported as 1.0), paginated by limit/offset.
	Scroll(ctx context.Context, collection string, filter Filter, limit, offset int) ([]Hit, error)

	// DeleteByFilter bulk-deletes all points matching filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// Count returns the number of points in collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases any held connections.
	Close() error
}
