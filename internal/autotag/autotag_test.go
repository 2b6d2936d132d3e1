package autotag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
)

type fakeGenerator struct {
	calls int
	tags  []string
	err   error

	gotText        string
	gotContextHint string
	gotMaxTags     int
}

func (f *fakeGenerator) GenerateTags(_ context.Context, text, contextHint string, maxTags int) ([]string, error) {
	f.calls++
	f.gotText = text
	f.gotContextHint = contextHint
	f.gotMaxTags = maxTags
	if f.err != nil {
		return nil, f.err
	}
	return f.tags, nil
}

func newEnricherForTest(gen TagGenerator) (*Enricher, metadatastore.Store) {
	cache := metadatastore.NewMemoryStore()
	e := New(Config{}, cache, gen, nil)
	return e, cache
}

func TestEnhanceWithTags_FirstCallGeneratesAndCaches(t *testing.T) {
	gen := &fakeGenerator{tags: []string{"ai", "ml"}}
	e, cache := newEnricherForTest(gen)

	out := e.EnhanceWithTags(context.Background(), "doc-A", "hello world", metadatastore.Metadata{"author": "Alice"}, 5)

	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls)
	}
	if gen.gotContextHint != "Author: Alice" {
		t.Fatalf("context hint = %q, want %q", gen.gotContextHint, "Author: Alice")
	}

	autoTags, _ := out["auto_tags"].([]string)
	if len(autoTags) != 2 || autoTags[0] != "ai" || autoTags[1] != "ml" {
		t.Fatalf("auto_tags = %v, want [ai ml]", out["auto_tags"])
	}
	tags, _ := out["tags"].([]string)
	if len(tags) != 2 {
		t.Fatalf("tags = %v, want union of prior (none) and new tags", tags)
	}
	if out["level_2"] != "ai" {
		t.Fatalf("level_2 = %v, want first auto-tag \"ai\"", out["level_2"])
	}

	// Cache entry persisted under the content hash.
	hash := contentHash("hello world")
	cached, ok, err := cache.Get(context.Background(), hash)
	if err != nil || !ok {
		t.Fatalf("cache entry not persisted: ok=%v err=%v", ok, err)
	}
	if cached["tags"] == nil {
		t.Fatalf("cache entry missing tags")
	}
}

func TestEnhanceWithTags_SecondCallUsesCache(t *testing.T) {
	gen := &fakeGenerator{tags: []string{"ai"}}
	e, _ := newEnricherForTest(gen)
	ctx := context.Background()

	e.EnhanceWithTags(ctx, "doc-A", "same content", metadatastore.Metadata{}, 5)
	e.EnhanceWithTags(ctx, "doc-A", "same content", metadatastore.Metadata{}, 5)

	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1 (second call should hit cache)", gen.calls)
	}
}

func TestEnhanceWithTags_ExpiredCacheRegenerates(t *testing.T) {
	gen := &fakeGenerator{tags: []string{"ai"}}
	cache := metadatastore.NewMemoryStore()
	e := New(Config{CacheTTL: time.Hour}, cache, gen, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	e.EnhanceWithTags(context.Background(), "doc-A", "content", metadatastore.Metadata{}, 5)
	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls)
	}

	e.now = func() time.Time { return base.Add(2 * time.Hour) }
	e.EnhanceWithTags(context.Background(), "doc-A", "content", metadatastore.Metadata{}, 5)
	if gen.calls != 2 {
		t.Fatalf("generator called %d times, want 2 after TTL expiry", gen.calls)
	}
}

func TestEnhanceWithTags_FailureIsNonFatal(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("provider down")}
	e, _ := newEnricherForTest(gen)

	existing := metadatastore.Metadata{"author": "Alice"}
	out := e.EnhanceWithTags(context.Background(), "doc-A", "content", existing, 5)

	if out["auto_tags"] != nil {
		t.Fatalf("auto_tags should be absent on failure, got %v", out["auto_tags"])
	}
	if out["author"] != "Alice" {
		t.Fatalf("original metadata should survive unchanged: %#v", out)
	}
}

func TestMerge_UnionsPriorAndNewTags(t *testing.T) {
	existing := metadatastore.Metadata{"tags": []string{"bio"}}
	out := merge(existing, []string{"ai", "bio"})

	tags, _ := out["tags"].([]string)
	seen := map[string]int{}
	for _, tg := range tags {
		seen[tg]++
	}
	if seen["bio"] != 1 {
		t.Fatalf("tags union should dedupe bio, got %v", tags)
	}
	if seen["ai"] != 1 {
		t.Fatalf("tags union should include ai, got %v", tags)
	}
}

func TestMerge_Level2NotOverwrittenWhenPresent(t *testing.T) {
	existing := metadatastore.Metadata{"level_2": "explicit"}
	out := merge(existing, []string{"ai"})
	if out["level_2"] != "explicit" {
		t.Fatalf("level_2 = %v, want explicit preserved", out["level_2"])
	}
}

func TestTagsFor_PromptTruncatedToConfiguredBudget(t *testing.T) {
	gen := &fakeGenerator{tags: []string{"t"}}
	cache := metadatastore.NewMemoryStore()
	e := New(Config{PromptBytes: 10}, cache, gen, nil)

	longContent := "0123456789ABCDEFGHIJ"
	_, err := e.tagsFor(context.Background(), longContent, metadatastore.Metadata{}, 5)
	if err != nil {
		t.Fatalf("tagsFor: %v", err)
	}
	if len(gen.gotText) != 10 {
		t.Fatalf("prompt length = %d, want truncated to 10", len(gen.gotText))
	}
}
