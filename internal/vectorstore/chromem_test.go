package vectorstore_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChromemStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 4,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func vec4(a, b, c, d float32) []float32 { return []float32{a, b, c, d} }

func TestChromemStore_EnsureCollectionIdempotent(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))
}

func TestChromemStore_UpsertAndCount(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	id, err := store.Upsert(ctx, "docs", "", vec4(1, 0, 0, 0), map[string]interface{}{"tag": "go"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	count, err := store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemStore_Upsert_AssignsDistinctIDs(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	// Identical vectors with no caller-supplied id must still land as
	// separate points, not overwrite each other.
	id1, err := store.Upsert(ctx, "docs", "", vec4(1, 0, 0, 0), map[string]interface{}{"doc_id": "a"})
	require.NoError(t, err)
	id2, err := store.Upsert(ctx, "docs", "", vec4(1, 0, 0, 0), map[string]interface{}{"doc_id": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	count, err := store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChromemStore_Upsert_EmptyVector(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	_, err := store.Upsert(ctx, "docs", "x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyVector)
}

func TestChromemStore_Search(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	_, err := store.Upsert(ctx, "docs", "a", vec4(1, 0, 0, 0), map[string]interface{}{"tag": "go"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "docs", "b", vec4(0, 1, 0, 0), map[string]interface{}{"tag": "rust"})
	require.NoError(t, err)

	hits, err := store.Search(ctx, "docs", vec4(1, 0, 0, 0), 5, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].PointID)
}

func TestChromemStore_Search_FilterByTag(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	_, err := store.Upsert(ctx, "docs", "a", vec4(1, 0, 0, 0), map[string]interface{}{"tag": "go"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "docs", "b", vec4(0.9, 0.1, 0, 0), map[string]interface{}{"tag": "rust"})
	require.NoError(t, err)

	hits, err := store.Search(ctx, "docs", vec4(1, 0, 0, 0), 5, 0, vectorstore.Filter{"tag": "rust"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].PointID)
}

func TestChromemStore_Search_CollectionNotFound(t *testing.T) {
	store := newTestChromemStore(t)
	_, err := store.Search(context.Background(), "missing", vec4(1, 0, 0, 0), 5, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestChromemStore_Scroll(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	for i, tag := range []string{"go", "go", "rust"} {
		_, err := store.Upsert(ctx, "docs", "", vec4(float32(i), 0, 0, 0), map[string]interface{}{"tag": tag})
		require.NoError(t, err)
	}

	hits, err := store.Scroll(ctx, "docs", vectorstore.Filter{"tag": "go"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestChromemStore_DeleteByFilter(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	_, err := store.Upsert(ctx, "docs", "a", vec4(1, 0, 0, 0), map[string]interface{}{"tag": "go"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "docs", "b", vec4(0, 1, 0, 0), map[string]interface{}{"tag": "rust"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByFilter(ctx, "docs", vectorstore.Filter{"tag": "go"}))

	count, err := store.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemStore_DeleteByFilter_RequiresFilter(t *testing.T) {
	store := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, "docs", 4, vectorstore.Cosine))

	err := store.DeleteByFilter(ctx, "docs", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
