package metadatastore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/fyrsmithlabs/ragdocd/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("ragdocd.metadatastore.firestore")

// FirestoreConfig holds configuration for the Firestore-backed adapter.
type FirestoreConfig struct {
	// ProjectID is the GCP project hosting the Firestore database
	// (METADATA_PROJECT_ID).
	ProjectID string

	// DatabaseID selects a non-default Firestore database
	// (METADATA_DATABASE_ID); empty uses "(default)".
	DatabaseID string

	// Collection is the document collection name (METADATA_COLLECTION).
	Collection string

	// Retry controls the retry-with-backoff behavior for transient
	// Firestore failures.
	Retry retry.Config
}

// ApplyDefaults sets default values for unset fields.
func (c *FirestoreConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "document_metadata"
	}
	if c.DatabaseID == "" {
		c.DatabaseID = "(default)"
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = retry.DefaultConfig()
	}
}

// Validate validates the configuration.
func (c FirestoreConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project ID required", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	return nil
}

func classifyFirestoreError(err error) retry.Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Other
	}
	st, ok := status.FromError(err)
	if !ok {
		return retry.Connection
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return retry.Connection
	case codes.NotFound:
		return retry.Other
	default:
		return retry.Other
	}
}

// FirestoreStore is a Store implementation backed by Firestore. Exists
// and BatchExists issue a name-only projection query before any full
// document fetch, so existence checks bill a fraction of a full read.
type FirestoreStore struct {
	client *firestore.Client
	config FirestoreConfig
	logger *zap.Logger
}

// NewFirestoreStore creates a FirestoreStore from the given configuration.
func NewFirestoreStore(ctx context.Context, config FirestoreConfig, logger *zap.Logger) (*FirestoreStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := firestore.NewClientWithDatabase(ctx, config.ProjectID, config.DatabaseID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &FirestoreStore{client: client, config: config, logger: logger}, nil
}

// Close closes the Firestore client.
func (s *FirestoreStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.config.Collection)
}

func (s *FirestoreStore) retry(ctx context.Context, name string, op func(context.Context) error) error {
	err := retry.Do(ctx, s.config.Retry, classifyFirestoreError, op)
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("%s: %w: %v", name, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Exists issues a name-only projection query that fetches only the
// document identifier.
func (s *FirestoreStore) Exists(ctx context.Context, docID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "FirestoreStore.Exists")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	var found bool
	err := s.retry(ctx, "exists", func(ctx context.Context) error {
		iter := s.col().Where("__name__", "==", s.col().Doc(docID)).
			Select().Limit(1).Documents(ctx)
		defer iter.Stop()

		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return found, nil
}

// BatchExists is the batch form of Exists, issuing "__name__ in"
// projection queries.
func (s *FirestoreStore) BatchExists(ctx context.Context, docIDs []string) (map[string]bool, error) {
	ctx, span := tracer.Start(ctx, "FirestoreStore.BatchExists")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(docIDs)))

	out := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		out[id] = false
	}
	if len(docIDs) == 0 {
		return out, nil
	}

	// Firestore's "in" operator accepts at most 30 values per query.
	const chunkSize = 30
	for start := 0; start < len(docIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(docIDs) {
			end = len(docIDs)
		}
		chunk := docIDs[start:end]

		refs := make([]*firestore.DocumentRef, len(chunk))
		for i, id := range chunk {
			refs[i] = s.col().Doc(id)
		}

		err := s.retry(ctx, "batch_exists", func(ctx context.Context) error {
			iter := s.col().Where("__name__", "in", refs).Select().Documents(ctx)
			defer iter.Stop()
			for {
				doc, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				if err != nil {
					return err
				}
				out[doc.Ref.ID] = true
			}
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	return out, nil
}

// Get returns the metadata for doc_id, or (nil, false, nil) if absent.
func (s *FirestoreStore) Get(ctx context.Context, docID string) (Metadata, bool, error) {
	ctx, span := tracer.Start(ctx, "FirestoreStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	var out Metadata
	var found bool
	err := s.retry(ctx, "get", func(ctx context.Context) error {
		snap, err := s.col().Doc(docID).Get(ctx)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == codes.NotFound {
				found = false
				return nil
			}
			return err
		}
		found = true
		out = Metadata(snap.Data())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return out, true, nil
}

// Set writes the full metadata record for doc_id.
func (s *FirestoreStore) Set(ctx context.Context, docID string, metadata Metadata) error {
	ctx, span := tracer.Start(ctx, "FirestoreStore.Set")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	err := s.retry(ctx, "set", func(ctx context.Context) error {
		_, err := s.col().Doc(docID).Set(ctx, map[string]interface{}(metadata))
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// BatchGet first calls BatchExists and then fetches only existing IDs,
// a cost optimization rather than a correctness requirement.
func (s *FirestoreStore) BatchGet(ctx context.Context, docIDs []string) (map[string]Metadata, error) {
	exists, err := s.BatchExists(ctx, docIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Metadata, len(docIDs))
	for _, id := range docIDs {
		if !exists[id] {
			continue
		}
		m, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = m
		}
	}
	return out, nil
}

// BatchSet writes records using Firestore's bulk-write batch, chunked
// to its 500-operation limit.
func (s *FirestoreStore) BatchSet(ctx context.Context, records map[string]Metadata) error {
	ctx, span := tracer.Start(ctx, "FirestoreStore.BatchSet")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(records)))

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}

	const chunkSize = 500
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		err := s.retry(ctx, "batch_set", func(ctx context.Context) error {
			batch := s.client.Batch()
			for _, id := range chunk {
				batch.Set(s.col().Doc(id), map[string]interface{}(records[id]))
			}
			_, err := batch.Commit(ctx)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// Delete removes the record for doc_id.
func (s *FirestoreStore) Delete(ctx context.Context, docID string) error {
	ctx, span := tracer.Start(ctx, "FirestoreStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("doc_id", docID))

	err := s.retry(ctx, "delete", func(ctx context.Context) error {
		_, err := s.col().Doc(docID).Delete(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// BatchDelete removes records for the given doc_ids, chunked to
// Firestore's ≤500-operation batch limit.
func (s *FirestoreStore) BatchDelete(ctx context.Context, docIDs []string) error {
	ctx, span := tracer.Start(ctx, "FirestoreStore.BatchDelete")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(docIDs)))

	const chunkSize = 500
	for start := 0; start < len(docIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(docIDs) {
			end = len(docIDs)
		}
		chunk := docIDs[start:end]

		err := s.retry(ctx, "batch_delete", func(ctx context.Context) error {
			batch := s.client.Batch()
			for _, id := range chunk {
				batch.Delete(s.col().Doc(id))
			}
			_, err := batch.Commit(ctx)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// Query returns metadata records matching an equality filter over
// indexed fields.
func (s *FirestoreStore) Query(ctx context.Context, filter map[string]interface{}, projection []string) ([]Metadata, error) {
	ctx, span := tracer.Start(ctx, "FirestoreStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("filter_keys", len(filter)))

	var out []Metadata
	err := s.retry(ctx, "query", func(ctx context.Context) error {
		q := s.col().Query
		for k, v := range filter {
			q = q.Where(k, "==", v)
		}
		if len(projection) > 0 {
			q = q.Select(projection...)
		}

		out = nil
		iter := q.Documents(ctx)
		defer iter.Stop()
		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return err
			}
			out = append(out, Metadata(doc.Data()))
		}
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}
