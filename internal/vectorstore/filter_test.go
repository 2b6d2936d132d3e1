package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_EmptyFilterMatchesAnyPayload(t *testing.T) {
	payload := map[string]interface{}{"doc_id": "a"}
	assert.True(t, matches(payload, Filter{}))
}

func TestMatches_EqualityAcrossKeysIsAND(t *testing.T) {
	payload := map[string]interface{}{
		"doc_id":   "a",
		"category": "reference",
	}
	assert.True(t, matches(payload, Filter{"doc_id": "a", "category": "reference"}))
	assert.False(t, matches(payload, Filter{"doc_id": "a", "category": "other"}))
}

func TestMatches_MissingKeyFails(t *testing.T) {
	payload := map[string]interface{}{"doc_id": "a"}
	assert.False(t, matches(payload, Filter{"category": "reference"}))
}

func TestMatches_SliceOfInterfacePayloadMatchesAnyElement(t *testing.T) {
	payload := map[string]interface{}{
		"tags": []interface{}{"alpha", "beta", "gamma"},
	}
	assert.True(t, matches(payload, Filter{"tags": "beta"}))
	assert.False(t, matches(payload, Filter{"tags": "delta"}))
}

func TestMatches_SliceOfStringPayloadMatchesAnyElement(t *testing.T) {
	payload := map[string]interface{}{
		"tags": []string{"alpha", "beta", "gamma"},
	}
	assert.True(t, matches(payload, Filter{"tags": "gamma"}))
	assert.False(t, matches(payload, Filter{"tags": "delta"}))
}

func TestMatches_SliceOfStringPayloadAgainstNonStringWantFails(t *testing.T) {
	payload := map[string]interface{}{"tags": []string{"alpha"}}
	assert.False(t, matches(payload, Filter{"tags": 1}))
}

func TestValueMatches_ScalarEquality(t *testing.T) {
	assert.True(t, valueMatches("a", "a"))
	assert.False(t, valueMatches("a", "b"))
	assert.True(t, valueMatches(1, 1))
}

func TestSortHits_OrdersByScoreDescending(t *testing.T) {
	hits := []Hit{
		{PointID: "c", Score: 0.5},
		{PointID: "a", Score: 0.9},
		{PointID: "b", Score: 0.7},
	}
	sortHits(hits)
	assert.Equal(t, []string{"a", "b", "c"}, []string{hits[0].PointID, hits[1].PointID, hits[2].PointID})
}

func TestSortHits_TiesBrokenByPointIDLexicographically(t *testing.T) {
	hits := []Hit{
		{PointID: "z", Score: 0.5},
		{PointID: "a", Score: 0.5},
		{PointID: "m", Score: 0.5},
	}
	sortHits(hits)
	assert.Equal(t, []string{"a", "m", "z"}, []string{hits[0].PointID, hits[1].PointID, hits[2].PointID})
}

func TestSortHits_StableForEqualKeys(t *testing.T) {
	hits := []Hit{
		{PointID: "a", Score: 0.5},
		{PointID: "a", Score: 0.5},
	}
	sortHits(hits)
	assert.Equal(t, "a", hits[0].PointID)
	assert.Equal(t, "a", hits[1].PointID)
}
