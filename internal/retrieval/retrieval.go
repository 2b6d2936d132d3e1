// Package retrieval implements hybrid search: vector similarity
// filtered by metadata equality, tag intersection, and substring path
// match, with hierarchy-path synthesis on the surviving hits.
package retrieval

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragdocd/internal/retrieval"

// ErrEmbeddingUnavailable is returned when the query embedding fails.
var ErrEmbeddingUnavailable = errors.New("EmbeddingUnavailable")

// Embedder is the subset of internal/embeddings.Client this package
// depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector []float32, tokenCount int, model string, err error)
}

// Query describes a RAGSearch request.
type Query struct {
	Text       string
	Filters    map[string]interface{}
	Tags       []string
	PathQuery  string
	K          int
	ScoreMin   float32
	Tag        string
}

// ApplyDefaults fills K/ScoreMin with their defaults.
func (q *Query) ApplyDefaults() {
	if q.K == 0 {
		q.K = 10
	}
	if q.ScoreMin == 0 {
		q.ScoreMin = 0.5
	}
}

// Hit is one result row returned to the gateway.
type Hit struct {
	DocID          string
	Score          float32
	ContentPreview string
	Metadata       metadatastore.Metadata
	HierarchyPath  string
}

// Result is the outcome of a RAGSearch call.
type Result struct {
	Status  string // "success" or "failed"
	Results []Hit
}

const previewLen = 200

// Engine is the hybrid retrieval engine.
type Engine struct {
	embedder   Embedder
	vectors    vectorstore.Store
	metadata   metadatastore.Store
	collection string
	overFetch  func(k int) int
	timeout    time.Duration
	logger     *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	latencyHisto metric.Int64Histogram
}

// New creates a retrieval Engine.
func New(embedder Embedder, vectors vectorstore.Store, metadata metadatastore.Store, collection string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		embedder:   embedder,
		vectors:    vectors,
		metadata:   metadata,
		collection: collection,
		overFetch:  func(k int) int { return k + k },
		timeout:    3 * time.Second,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}
	var err error
	e.latencyHisto, err = e.meter.Int64Histogram(
		"ragdocd.ragsearch.latency_ms",
		metric.WithDescription("RAG search latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		e.logger.Warn("failed to create ragsearch latency histogram", zap.Error(err))
	}
	return e
}

// RAGSearch embeds the query, over-fetches from the vector store,
// hydrates metadata, post-filters, and truncates to K.
func (e *Engine) RAGSearch(ctx context.Context, q Query) Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "retrieval.RAGSearch")
	defer span.End()
	span.SetAttributes(attribute.String("query", q.Text), attribute.Int("k", q.K))

	q.ApplyDefaults()

	// Best-effort under a short deadline; a timed-out search fails with
	// an empty result list rather than blocking the request path.
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := e.search(ctx, q)

	if e.latencyHisto != nil {
		e.latencyHisto.Record(ctx, time.Since(start).Milliseconds())
	}
	return result
}

func (e *Engine) search(ctx context.Context, q Query) Result {
	vector, _, _, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return Result{Status: "failed", Results: nil}
	}

	filter := vectorstore.Filter{}
	if q.Tag != "" {
		filter["tag"] = q.Tag
	}

	kPrime := e.overFetch(q.K)
	hits, err := e.vectors.Search(ctx, e.collection, vector, kPrime, 0, filter)
	if err != nil {
		return Result{Status: "failed", Results: nil}
	}

	docIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		if id, ok := h.Payload["doc_id"].(string); ok {
			docIDs = append(docIDs, id)
		}
	}
	metaByDoc, err := e.metadata.BatchGet(ctx, docIDs)
	if err != nil {
		// Metadata hydration is best-effort: a metadata-store failure
		// does not drop hits, it only omits the extra fields.
		metaByDoc = map[string]metadatastore.Metadata{}
	}

	rows := hydrate(hits, metaByDoc)
	rows = applyMetadataFilter(rows, q.Filters)
	rows = applyTagFilter(rows, q.Tags)
	rows = applyPathFilter(rows, q.PathQuery)
	rows = filterByScore(rows, q.ScoreMin)

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	if len(rows) > q.K {
		rows = rows[:q.K]
	}

	for i := range rows {
		rows[i].HierarchyPath = hierarchyPath(rows[i].Metadata)
	}

	return Result{Status: "success", Results: rows}
}

func hydrate(hits []vectorstore.Hit, metaByDoc map[string]metadatastore.Metadata) []Hit {
	rows := make([]Hit, 0, len(hits))
	for _, h := range hits {
		docID, _ := h.Payload["doc_id"].(string)
		row := Hit{
			DocID:          docID,
			Score:          h.Score,
			ContentPreview: preview(h.Payload),
			Metadata:       metadatastore.Metadata(h.Payload),
		}
		if m, ok := metaByDoc[docID]; ok {
			row.Metadata = m
			row.ContentPreview = preview(m)
		}
		rows = append(rows, row)
	}
	return rows
}

func preview(m map[string]interface{}) string {
	if s, ok := m["content"].(string); ok {
		if len(s) > previewLen {
			return s[:previewLen]
		}
		return s
	}
	return ""
}

// applyMetadataFilter keeps hits where hit.Metadata[k] == v for every
// key in filters. hit.Metadata is the metadata-store record when one
// exists, otherwise the vector payload.
func applyMetadataFilter(rows []Hit, filters map[string]interface{}) []Hit {
	if len(filters) == 0 {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		match := true
		for k, want := range filters {
			if got, ok := r.Metadata[k]; !ok || got != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}

// applyTagFilter keeps hits whose tags or auto_tags intersects tags.
func applyTagFilter(rows []Hit, tags []string) []Hit {
	if len(tags) == 0 {
		return rows
	}
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	out := rows[:0]
	for _, r := range rows {
		if intersects(stringSlice(r.Metadata["tags"]), want) || intersects(stringSlice(r.Metadata["auto_tags"]), want) {
			out = append(out, r)
		}
	}
	return out
}

func intersects(values []string, want map[string]struct{}) bool {
	for _, v := range values {
		if _, ok := want[v]; ok {
			return true
		}
	}
	return false
}

// applyPathFilter keeps hits whose path or file_path contains pathQuery
// as a case-insensitive substring.
func applyPathFilter(rows []Hit, pathQuery string) []Hit {
	if pathQuery == "" {
		return rows
	}
	needle := strings.ToLower(pathQuery)

	out := rows[:0]
	for _, r := range rows {
		path, _ := r.Metadata["path"].(string)
		filePath, _ := r.Metadata["file_path"].(string)
		if strings.Contains(strings.ToLower(path), needle) || strings.Contains(strings.ToLower(filePath), needle) {
			out = append(out, r)
		}
	}
	return out
}

func filterByScore(rows []Hit, scoreMin float32) []Hit {
	out := rows[:0]
	for _, r := range rows {
		if r.Score >= scoreMin {
			out = append(out, r)
		}
	}
	return out
}

// hierarchyPath computes the hierarchy_path string: the first
// non-empty of the joined non-null level_1..level_6, the slash-split
// path/file_path, or "Uncategorized".
func hierarchyPath(m metadatastore.Metadata) string {
	var levels []string
	for i := 1; i <= 6; i++ {
		key := "level_" + string(rune('0'+i))
		if s, ok := m[key].(string); ok && s != "" {
			levels = append(levels, s)
		}
	}
	if len(levels) > 0 {
		return strings.Join(levels, " > ")
	}

	for _, key := range []string{"path", "file_path"} {
		if s, ok := m[key].(string); ok && s != "" {
			parts := strings.Split(strings.Trim(s, "/"), "/")
			return strings.Join(parts, " > ")
		}
	}

	return "Uncategorized"
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
