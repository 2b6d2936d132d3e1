// Package objectstore defines the narrow blob-store interface used by
// the snapshot sidecar, with a concrete S3-backed implementation. It is
// never on the retrieval hot path.
package objectstore

import (
	"context"
	"errors"
)

// ErrUnavailable indicates retries against the object store were
// exhausted.
var ErrUnavailable = errors.New("ObjectStoreUnavailable")

// BlobStore is the narrow interface the snapshot sidecar depends on.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
