package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, int, string, error) {
	f.calls++
	if f.err != nil {
		return nil, 0, "", f.err
	}
	return f.vector, 1, "fake-model", nil
}

// fakeVectorStore returns a fixed, pre-scored hit list regardless of the
// query vector, letting tests control ranking directly.
type fakeVectorStore struct {
	hits []vectorstore.Hit
	err  error
}

func (f *fakeVectorStore) EnsureCollection(context.Context, string, int, vectorstore.Metric) error {
	return nil
}
func (f *fakeVectorStore) Upsert(context.Context, string, string, []float32, map[string]interface{}) (string, error) {
	return "", nil
}
func (f *fakeVectorStore) Search(_ context.Context, _ string, _ []float32, k int, scoreMin float32, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []vectorstore.Hit
	for _, h := range f.hits {
		if h.Score < scoreMin {
			continue
		}
		if tag, ok := filter["tag"]; ok && h.Payload["tag"] != tag {
			continue
		}
		out = append(out, h)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
func (f *fakeVectorStore) Scroll(context.Context, string, vectorstore.Filter, int, int) ([]vectorstore.Hit, error) {
	return nil, nil
}
func (f *fakeVectorStore) DeleteByFilter(context.Context, string, vectorstore.Filter) error { return nil }
func (f *fakeVectorStore) Count(context.Context, string) (int, error)                      { return len(f.hits), nil }
func (f *fakeVectorStore) Close() error                                                    { return nil }

func newEngine(t *testing.T, emb Embedder, vec vectorstore.Store, meta metadatastore.Store) *Engine {
	t.Helper()
	return New(emb, vec, meta, "docs", nil)
}

// Scenario 5: RAG hybrid filter.
func TestRAGSearch_HybridFilter(t *testing.T) {
	hits := []vectorstore.Hit{
		{PointID: "1", Score: 0.9, Payload: map[string]interface{}{"doc_id": "sci-ai"}},
		{PointID: "2", Score: 0.8, Payload: map[string]interface{}{"doc_id": "hist-ai"}},
		{PointID: "3", Score: 0.7, Payload: map[string]interface{}{"doc_id": "sci-bio"}},
	}
	meta := metadatastore.NewMemoryStore()
	ctx := context.Background()
	_ = meta.Set(ctx, "sci-ai", metadatastore.Metadata{"category": "science", "tags": []string{"ai"}})
	_ = meta.Set(ctx, "hist-ai", metadatastore.Metadata{"category": "history", "tags": []string{"ai"}})
	_ = meta.Set(ctx, "sci-bio", metadatastore.Metadata{"category": "science", "tags": []string{"bio"}})

	eng := newEngine(t, &fakeEmbedder{vector: []float32{0.1}}, &fakeVectorStore{hits: hits}, meta)

	result := eng.RAGSearch(ctx, Query{
		Text:     "q",
		Filters:  map[string]interface{}{"category": "science"},
		Tags:     []string{"ai"},
		K:        10,
		ScoreMin: 0.5,
	})

	if result.Status != "success" {
		t.Fatalf("status = %q, want success", result.Status)
	}
	if len(result.Results) != 1 {
		t.Fatalf("len(results) = %d, want exactly 1, got %#v", len(result.Results), result.Results)
	}
	if result.Results[0].DocID != "sci-ai" {
		t.Fatalf("doc_id = %q, want sci-ai", result.Results[0].DocID)
	}
}

func TestRAGSearch_EmbeddingFailureReturnsEmptyFailed(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	eng := newEngine(t, &fakeEmbedder{err: errors.New("down")}, &fakeVectorStore{}, meta)

	result := eng.RAGSearch(context.Background(), Query{Text: "q"})
	if result.Status != "failed" {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if len(result.Results) != 0 {
		t.Fatalf("results = %v, want empty on failure", result.Results)
	}
}

func TestRAGSearch_VectorStoreFailureReturnsFailed(t *testing.T) {
	meta := metadatastore.NewMemoryStore()
	eng := newEngine(t, &fakeEmbedder{vector: []float32{0.1}}, &fakeVectorStore{err: errors.New("down")}, meta)

	result := eng.RAGSearch(context.Background(), Query{Text: "q"})
	if result.Status != "failed" {
		t.Fatalf("status = %q, want failed", result.Status)
	}
}

// P6: RAG search is monotonic in k: the k=K result is a subset of k=K+1's.
func TestRAGSearch_MonotonicInK(t *testing.T) {
	hits := []vectorstore.Hit{
		{PointID: "1", Score: 0.95, Payload: map[string]interface{}{"doc_id": "a"}},
		{PointID: "2", Score: 0.90, Payload: map[string]interface{}{"doc_id": "b"}},
		{PointID: "3", Score: 0.85, Payload: map[string]interface{}{"doc_id": "c"}},
		{PointID: "4", Score: 0.80, Payload: map[string]interface{}{"doc_id": "d"}},
	}
	meta := metadatastore.NewMemoryStore()

	resultFor := func(k int) map[string]bool {
		eng := newEngine(t, &fakeEmbedder{vector: []float32{0.1}}, &fakeVectorStore{hits: hits}, meta)
		res := eng.RAGSearch(context.Background(), Query{Text: "q", K: k, ScoreMin: 0})
		out := make(map[string]bool, len(res.Results))
		for _, h := range res.Results {
			out[h.DocID] = true
		}
		return out
	}

	k1 := resultFor(1)
	k2 := resultFor(2)
	k3 := resultFor(3)

	for id := range k1 {
		if !k2[id] {
			t.Fatalf("k=1 result %q missing from k=2 result", id)
		}
	}
	for id := range k2 {
		if !k3[id] {
			t.Fatalf("k=2 result %q missing from k=3 result", id)
		}
	}
}

func TestHierarchyPath_PrefersLevels(t *testing.T) {
	m := metadatastore.Metadata{"level_1": "science", "level_2": "ai", "path": "/a/b/c"}
	if got := hierarchyPath(m); got != "science > ai" {
		t.Fatalf("hierarchyPath = %q, want \"science > ai\"", got)
	}
}

func TestHierarchyPath_FallsBackToPath(t *testing.T) {
	m := metadatastore.Metadata{"path": "/a/b/c"}
	if got := hierarchyPath(m); got != "a > b > c" {
		t.Fatalf("hierarchyPath = %q, want \"a > b > c\"", got)
	}
}

func TestHierarchyPath_FallsBackToFilePath(t *testing.T) {
	m := metadatastore.Metadata{"file_path": "x/y"}
	if got := hierarchyPath(m); got != "x > y" {
		t.Fatalf("hierarchyPath = %q, want \"x > y\"", got)
	}
}

func TestHierarchyPath_Uncategorized(t *testing.T) {
	m := metadatastore.Metadata{}
	if got := hierarchyPath(m); got != "Uncategorized" {
		t.Fatalf("hierarchyPath = %q, want Uncategorized", got)
	}
}

func TestApplyPathFilter_CaseInsensitiveSubstring(t *testing.T) {
	rows := []Hit{
		{DocID: "a", Metadata: metadatastore.Metadata{"path": "/Docs/Guide.md"}},
		{DocID: "b", Metadata: metadatastore.Metadata{"path": "/other/file.md"}},
	}
	out := applyPathFilter(rows, "guide")
	if len(out) != 1 || out[0].DocID != "a" {
		t.Fatalf("applyPathFilter = %#v, want only doc a", out)
	}
}
