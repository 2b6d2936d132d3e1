// Package autotag derives tags for document content through the
// embedding provider's chat completion surface, caching results by
// content hash so repeated ingests of identical content never pay for
// a second generation. The cache collection is an ordinary
// metadatastore.Store handle, so the enricher is backend agnostic like
// the rest of the module.
package autotag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"go.uber.org/zap"
)

// defaultCacheCollection is the cache collection name.
const defaultCacheCollection = "auto_tag_cache"

// defaultPromptBytes is the truncation budget for content embedded in
// the tag-generation prompt (AUTOTAG_PROMPT_BYTES).
const defaultPromptBytes = 2048

// TagGenerator is the subset of the embedding client's surface this
// package depends on (internal/embeddings.Client.GenerateTags).
type TagGenerator interface {
	GenerateTags(ctx context.Context, text, contextHint string, maxTags int) ([]string, error)
}

// Config configures the enricher.
type Config struct {
	// CacheCollection names the store used as the auto-tag cache.
	CacheCollection string

	// CacheTTL is how long a cached tag set remains valid
	// (AUTOTAG_CACHE_TTL_HOURS).
	CacheTTL time.Duration

	// PromptBytes bounds how much content is embedded in the
	// tag-generation prompt (AUTOTAG_PROMPT_BYTES).
	PromptBytes int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.CacheCollection == "" {
		c.CacheCollection = defaultCacheCollection
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.PromptBytes == 0 {
		c.PromptBytes = defaultPromptBytes
	}
}

// Enricher derives and caches auto-tags for document content.
type Enricher struct {
	config    Config
	cache     metadatastore.Store
	generator TagGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an Enricher. cache is an independent MetadataStore handle
// scoped to the auto-tag cache collection, not the document metadata
// collection.
func New(config Config, cache metadatastore.Store, generator TagGenerator, logger *zap.Logger) *Enricher {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		config:    config,
		cache:     cache,
		generator: generator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	Tags     []string `json:"tags"`
	CachedAt string   `json:"cached_at"`
}

// EnhanceWithTags generates (or reuses cached) tags for content and
// merges them into existingMetadata. On any failure it returns
// existingMetadata unchanged: auto-tag failure is non-fatal and never
// aborts ingestion.
func (e *Enricher) EnhanceWithTags(ctx context.Context, docID, content string, existingMetadata metadatastore.Metadata, maxTags int) metadatastore.Metadata {
	if maxTags <= 0 {
		maxTags = 5
	}

	tags, err := e.tagsFor(ctx, content, existingMetadata, maxTags)
	if err != nil {
		e.logger.Warn("auto-tag enrichment failed, proceeding without tags",
			zap.String("doc_id", docID), zap.Error(err))
		return existingMetadata
	}

	return merge(existingMetadata, tags)
}

// tagsFor returns the tag list for content, consulting the cache first.
func (e *Enricher) tagsFor(ctx context.Context, content string, existingMetadata metadatastore.Metadata, maxTags int) ([]string, error) {
	hash := contentHash(content)

	if cached, ok := e.lookupCache(ctx, hash); ok {
		return cached, nil
	}

	contextHint := buildContextHint(existingMetadata)
	prompt := content
	if len(prompt) > e.config.PromptBytes {
		prompt = prompt[:e.config.PromptBytes]
	}

	tags, err := e.generator.GenerateTags(ctx, prompt, contextHint, maxTags)
	if err != nil {
		return nil, fmt.Errorf("generating tags: %w", err)
	}

	e.storeCache(ctx, hash, tags)
	return tags, nil
}

// lookupCache returns cached tags for hash if present and within TTL,
// mirroring _get_cached_tags's expiry check (computed here, rather than
// relying on the store to expire entries, since MetadataStore has no
// built-in TTL semantics).
func (e *Enricher) lookupCache(ctx context.Context, hash string) ([]string, bool) {
	raw, ok, err := e.cache.Get(ctx, hash)
	if err != nil || !ok {
		return nil, false
	}

	cachedAtRaw, _ := raw["cached_at"].(string)
	cachedAt, err := time.Parse(time.RFC3339, cachedAtRaw)
	if err != nil {
		return nil, false
	}
	if e.now().Sub(cachedAt) > e.config.CacheTTL {
		_ = e.cache.Delete(ctx, hash)
		return nil, false
	}

	tagsRaw, _ := raw["tags"].([]interface{})
	tags := make([]string, 0, len(tagsRaw))
	for _, t := range tagsRaw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	if strTags, ok := raw["tags"].([]string); ok {
		tags = strTags
	}
	return tags, true
}

func (e *Enricher) storeCache(ctx context.Context, hash string, tags []string) {
	entry := metadatastore.Metadata{
		"tags":       tags,
		"cached_at":  e.now().Format(time.RFC3339),
		"doc_id":     hash,
	}
	if err := e.cache.Set(ctx, hash, entry); err != nil {
		e.logger.Warn("failed to cache auto-tags", zap.Error(err))
	}
}

// buildContextHint builds the short context string from author,
// category, source, and year.
func buildContextHint(m metadatastore.Metadata) string {
	var parts []string
	if v, ok := m["author"].(string); ok && v != "" {
		parts = append(parts, "Author: "+v)
	}
	if v, ok := m["category"].(string); ok && v != "" {
		parts = append(parts, "Category: "+v)
	}
	if v, ok := m["source"].(string); ok && v != "" {
		parts = append(parts, "Source: "+v)
	}
	if v, ok := m["year"]; ok {
		parts = append(parts, fmt.Sprintf("Year: %v", v))
	}
	return strings.Join(parts, ", ")
}

// merge sets auto_tags to the newly generated tags, replaces tags with
// the union of prior tags and the new ones, and backfills level_2 from
// the first auto-tag when absent.
func merge(existing metadatastore.Metadata, autoTags []string) metadatastore.Metadata {
	out := existing.Clone()
	if out == nil {
		out = metadatastore.Metadata{}
	}

	out["auto_tags"] = autoTags

	existingTags := stringSlice(out["tags"])
	union := make([]string, 0, len(existingTags)+len(autoTags))
	seen := make(map[string]struct{}, len(existingTags)+len(autoTags))
	for _, t := range append(existingTags, autoTags...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		union = append(union, t)
	}
	out["tags"] = union

	if _, ok := out["level_2"]; !ok && len(autoTags) > 0 {
		out["level_2"] = autoTags[0]
	}

	return out
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case string:
		return []string{t}
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
