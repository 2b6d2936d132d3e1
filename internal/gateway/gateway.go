// Package gateway implements the request gateway's service logic:
// principal extraction, rate limiting, RAG-response caching, and
// service readiness, composing the orchestrator and retrieval engine.
// HTTP transport lives in internal/httpapi.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/cache"
	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"github.com/fyrsmithlabs/ragdocd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragdocd/internal/retrieval"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragdocd/pkg/auth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragdocd/internal/gateway"

// Sentinel errors; the message doubles as the error kind surfaced to
// clients.
var (
	ErrInvalidInput       = errors.New("InvalidInput")
	ErrUnauthorized       = errors.New("Unauthorized")
	ErrTooManyRequests    = errors.New("TooManyRequests")
	ErrServiceUnavailable = errors.New("ServiceUnavailable")
)

// Config configures the gateway.
type Config struct {
	Collection string

	// RateLimitPerSecond bounds the token-bucket fill rate per principal.
	RateLimitPerSecond float64

	// RateLimitBurst bounds the token-bucket capacity per principal.
	RateLimitBurst int

	// CacheEnabled toggles the RAG response cache (RAG_CACHE_ENABLED).
	CacheEnabled bool

	// CacheTTL is the RAG response cache TTL (RAG_CACHE_TTL_SECONDS).
	CacheTTL time.Duration

	// CacheMax is the RAG response cache capacity (RAG_CACHE_MAX).
	CacheMax int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = 5
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 10
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.CacheMax == 0 {
		c.CacheMax = 1000
	}
}

// SaveRequest mirrors the /save request body.
type SaveRequest struct {
	DocID          string
	Content        string
	Metadata       metadatastore.Metadata
	Tag            string
	UpdateMetadata *bool
}

// SaveResponse mirrors the /save response.
type SaveResponse struct {
	Status   string
	DocID    string
	VectorID string
	Error    string
}

// SearchRequest mirrors the /query and /rag_search bodies.
type SearchRequest struct {
	QueryText string
	K         int
	ScoreMin  float32
	Tag       string
	Filters   map[string]interface{}
	Tags      []string
	PathQuery string
}

// ScrollRequest mirrors the /search body (payload filter only, no
// similarity scoring).
type ScrollRequest struct {
	Tag     string
	Filters map[string]interface{}
	Limit   int
	Offset  int
}

// HealthStatus mirrors the /health response's services map.
type HealthStatus struct {
	VectorStore   string
	MetadataStore string
	Embedder      string
}

// Gateway is the single entry point transport handlers call into.
type Gateway struct {
	config   Config
	vectors  vectorstore.Store
	metadata metadatastore.Store
	orch     *orchestrator.Service
	engine   *retrieval.Engine
	users    auth.UserStore
	issuer   *auth.Issuer
	logger   *zap.Logger

	ragCache *cache.Cache[SearchResult]
	limiters *limiterSet

	tracer trace.Tracer
	meter  metric.Meter

	readyVectors  bool
	readyMetadata bool
}

// SearchResult is the cacheable payload stored by RAGSearch.
type SearchResult struct {
	Status  string
	Results []retrieval.Hit
}

// New creates a Gateway.
func New(config Config, vectors vectorstore.Store, metadata metadatastore.Store, orch *orchestrator.Service, engine *retrieval.Engine, users auth.UserStore, issuer *auth.Issuer, logger *zap.Logger) *Gateway {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{
		config:        config,
		vectors:       vectors,
		metadata:      metadata,
		orch:          orch,
		engine:        engine,
		users:         users,
		issuer:        issuer,
		logger:        logger,
		limiters:      newLimiterSet(config.RateLimitPerSecond, config.RateLimitBurst),
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
		readyVectors:  vectors != nil,
		readyMetadata: metadata != nil,
	}
	if config.CacheEnabled {
		g.ragCache = cache.New[SearchResult](config.CacheTTL, config.CacheMax)
	}
	return g
}

// Allow applies the per-principal token-bucket rate limit. The gateway
// never blocks in the request path; exceeding the rate returns
// ErrTooManyRequests immediately.
func (g *Gateway) Allow(principal string) error {
	if !g.limiters.allow(principal) {
		return ErrTooManyRequests
	}
	return nil
}

// Save implements the /save operation.
func (g *Gateway) Save(ctx context.Context, req SaveRequest) (SaveResponse, error) {
	if !g.readyVectors || !g.readyMetadata {
		return SaveResponse{}, ErrServiceUnavailable
	}
	if req.DocID == "" || req.Content == "" {
		return SaveResponse{}, fmt.Errorf("%w: doc_id and content are required", ErrInvalidInput)
	}

	updateMetadata := true
	if req.UpdateMetadata != nil {
		updateMetadata = *req.UpdateMetadata
	}

	result := g.orch.Vectorize(ctx, req.DocID, req.Content, req.Metadata, req.Tag, updateMetadata, true)
	resp := SaveResponse{Status: result.Status, DocID: result.DocID, VectorID: result.VectorID, Error: result.Error}
	return resp, nil
}

// RAGSearch implements the /query and /rag_search operations. A cache
// hit skips the embedder, vector store, and metadata store entirely.
func (g *Gateway) RAGSearch(ctx context.Context, principal string, req SearchRequest) (SearchResult, error) {
	if !g.readyVectors || !g.readyMetadata {
		return SearchResult{}, ErrServiceUnavailable
	}
	if req.QueryText == "" {
		return SearchResult{}, fmt.Errorf("%w: query_text is required", ErrInvalidInput)
	}

	key := cacheKey(req, principal)
	if g.ragCache != nil {
		if cached, ok := g.ragCache.Get(key); ok {
			return cached, nil
		}
	}

	q := retrieval.Query{
		Text:      req.QueryText,
		Filters:   req.Filters,
		Tags:      req.Tags,
		PathQuery: req.PathQuery,
		K:         req.K,
		ScoreMin:  req.ScoreMin,
		Tag:       req.Tag,
	}
	result := g.engine.RAGSearch(ctx, q)
	out := SearchResult{Status: result.Status, Results: result.Results}

	if g.ragCache != nil && out.Status == "success" {
		g.ragCache.Put(key, out)
	}
	return out, nil
}

// Search implements the /search operation: payload filter only, no
// similarity scoring.
func (g *Gateway) Search(ctx context.Context, req ScrollRequest) ([]vectorstore.Hit, error) {
	if !g.readyVectors {
		return nil, ErrServiceUnavailable
	}

	filter := vectorstore.Filter{}
	for k, v := range req.Filters {
		filter[k] = v
	}
	if req.Tag != "" {
		filter["tag"] = req.Tag
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	return g.vectors.Scroll(ctx, g.config.Collection, filter, limit, req.Offset)
}

// Login implements /auth/login.
func (g *Gateway) Login(email, password string) (string, error) {
	if g.users == nil || g.issuer == nil {
		return "", ErrServiceUnavailable
	}
	u, err := g.users.Authenticate(email, password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return g.issuer.Issue(u.ID)
}

// Register implements /auth/register.
func (g *Gateway) Register(email, password, fullName string) (auth.User, error) {
	if g.users == nil {
		return auth.User{}, ErrServiceUnavailable
	}
	if email == "" || password == "" {
		return auth.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	return g.users.Register(email, password, fullName)
}

// Health implements /health.
func (g *Gateway) Health(ctx context.Context) HealthStatus {
	status := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "unavailable"
	}

	hs := HealthStatus{
		VectorStore:   status(g.readyVectors),
		MetadataStore: status(g.readyMetadata),
		Embedder:      "ok",
	}
	if g.vectors != nil {
		if _, err := g.vectors.Count(ctx, g.config.Collection); err != nil {
			hs.VectorStore = "unavailable"
		}
	}
	return hs
}

// cacheKey computes a deterministic hash over (endpoint, query, k,
// scoreMin, filters, tags, pathQuery, tag, principal).
func cacheKey(req SearchRequest, principal string) string {
	payload := struct {
		Endpoint  string
		Query     string
		K         int
		ScoreMin  float32
		Filters   map[string]interface{}
		Tags      []string
		PathQuery string
		Tag       string
		Principal string
	}{
		Endpoint:  "rag_search",
		Query:     req.QueryText,
		K:         req.K,
		ScoreMin:  req.ScoreMin,
		Filters:   req.Filters,
		Tags:      req.Tags,
		PathQuery: req.PathQuery,
		Tag:       req.Tag,
		Principal: principal,
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// limiterSet guards a per-principal token bucket set, the gateway's only
// shared mutable rate-limiting state.
type limiterSet struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newLimiterSet(rate float64, burst int) *limiterSet {
	return &limiterSet{rate: rate, burst: float64(burst), buckets: make(map[string]*bucket)}
}

func (l *limiterSet) allow(principal string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[principal]
	if !ok {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[principal] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
