// Package versioner is a pure, I/O-free transformation that, given new
// metadata and the prior stored record (or its absence), produces the
// metadata record to persist: validated, hierarchy-synthesized,
// change-tracked, and version-bumped. A caller-supplied version other
// than prior+1 is a hard VersionConflict, never a warning.
package versioner

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
)

// Sentinel errors; the message doubles as the error kind surfaced to
// clients.
var (
	// ErrInvalidMetadata indicates a validation failure.
	ErrInvalidMetadata = errors.New("MetadataInvalid")

	// ErrVersionConflict indicates a caller-supplied version did not equal
	// prior.version + 1.
	ErrVersionConflict = errors.New("VersionConflict")
)

const (
	maxContentBytes   = 50 * 1024
	maxLevelChars     = 100
	maxVersionHistory = 10
)

// Change is a single change descriptor, e.g. "added:category" or
// "modified:author".
type Change string

// Now is the clock the versioner consults for lastUpdated/createdAt.
// Overridable in tests; the production default is time.Now.
var Now = func() time.Time { return time.Now().UTC() }

// reservedKeys are bookkeeping fields excluded from change-set
// computation.
var reservedKeys = map[string]struct{}{
	"version":         {},
	"lastUpdated":     {},
	"version_history": {},
}

// versionHistoryEntry is one prior version's audit record:
// {version, timestamp, changes}.
type versionHistoryEntry struct {
	Version   int      `json:"version"`
	Timestamp string   `json:"timestamp"`
	Changes   []Change `json:"changes"`
}

// Apply validates new against prior (nil if no prior record exists) and
// returns the metadata record to persist plus the computed change set.
//
// new is not mutated; the returned Metadata is a fresh map. Apply does
// not merge prior's other fields itself. A caller that wants fields
// from prior to survive an update that omits them (the orchestrator's
// Vectorize, composing a re-ingest) must merge prior onto new before
// calling Apply; Apply only carries forward version, version_history,
// and createdAt automatically.
func Apply(new metadatastore.Metadata, prior metadatastore.Metadata) (metadatastore.Metadata, []Change, error) {
	if err := validate(new); err != nil {
		return nil, nil, err
	}

	priorVersion := 0
	var priorCreatedAt string
	var priorLastUpdated string
	if prior != nil {
		if v, ok := prior["version"].(int); ok {
			priorVersion = v
		} else if v, ok := prior["version"].(float64); ok {
			priorVersion = int(v)
		}
		if s, ok := prior["createdAt"].(string); ok {
			priorCreatedAt = s
		}
		if s, ok := prior["lastUpdated"].(string); ok {
			priorLastUpdated = s
		}
	}

	if suppliedRaw, ok := new["version"]; ok {
		supplied, ok := asInt(suppliedRaw)
		if !ok {
			return nil, nil, fmt.Errorf("%w: version must be an integer", ErrInvalidMetadata)
		}
		if supplied != priorVersion+1 {
			return nil, nil, fmt.Errorf("%w: supplied version %d, expected %d", ErrVersionConflict, supplied, priorVersion+1)
		}
	}

	out := new.Clone()
	synthesizeHierarchy(out)

	changes := detectChanges(out, prior)

	now := Now().Format(time.RFC3339)

	if prior != nil {
		entry := versionHistoryEntry{
			Version:   priorVersion,
			Timestamp: priorLastUpdated,
			Changes:   changes,
		}
		history := appendHistory(prior["version_history"], entry)
		out["version_history"] = history
	} else if existing, ok := new["version_history"]; ok {
		out["version_history"] = existing
	}

	out["version"] = priorVersion + 1
	out["lastUpdated"] = now
	if priorCreatedAt != "" {
		out["createdAt"] = priorCreatedAt
	} else if s, ok := out["createdAt"].(string); !ok || s == "" {
		out["createdAt"] = now
	}

	return out, changes, nil
}

// appendHistory appends entry to an existing version_history value
// (itself a []versionHistoryEntry or nil), truncating so the oldest
// entries are dropped first.
func appendHistory(existing interface{}, entry versionHistoryEntry) []versionHistoryEntry {
	var history []versionHistoryEntry
	switch v := existing.(type) {
	case []versionHistoryEntry:
		history = append(history, v...)
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				history = append(history, mapToHistoryEntry(m))
			}
		}
	}
	history = append(history, entry)
	if len(history) > maxVersionHistory {
		history = history[len(history)-maxVersionHistory:]
	}
	return history
}

func mapToHistoryEntry(m map[string]interface{}) versionHistoryEntry {
	var e versionHistoryEntry
	if v, ok := asInt(m["version"]); ok {
		e.Version = v
	}
	if s, ok := m["timestamp"].(string); ok {
		e.Timestamp = s
	}
	if raw, ok := m["changes"].([]interface{}); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				e.Changes = append(e.Changes, Change(s))
			}
		}
	}
	return e
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// detectChanges computes the change set vs prior, skipping reserved
// keys.
func detectChanges(newM metadatastore.Metadata, prior metadatastore.Metadata) []Change {
	var changes []Change

	for k, newV := range newM {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		priorV, existed := prior[k]
		if !existed {
			changes = append(changes, Change("added:"+k))
			continue
		}
		if !equalValue(priorV, newV) {
			changes = append(changes, Change("modified:"+k))
		}
	}

	for k := range prior {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		if _, stillPresent := newM[k]; !stillPresent {
			changes = append(changes, Change("removed:"+k))
		}
	}

	return changes
}

func equalValue(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// synthesizeHierarchy fills any absent level_k field. Only missing (or
// null) levels are populated; an explicitly supplied level_k is never
// overwritten.
func synthesizeHierarchy(m metadatastore.Metadata) {
	if v, ok := m["level_1"]; !ok || v == nil {
		m["level_1"] = firstNonEmptyString(m, "doc_type", "category", "source")
		if m["level_1"] == "" {
			m["level_1"] = "document"
		}
	}
	if v, ok := m["level_2"]; !ok || v == nil {
		if tag, ok := m["tag"].(string); ok && tag != "" {
			m["level_2"] = tag
		}
	}
	if v, ok := m["level_3"]; !ok || v == nil {
		if author, ok := m["author"].(string); ok && author != "" {
			m["level_3"] = author
		}
	}
	if v, ok := m["level_4"]; !ok || v == nil {
		if year, present := m["year"]; present {
			m["level_4"] = fmt.Sprint(year)
		}
	}
	if v, ok := m["level_5"]; !ok || v == nil {
		if lang, ok := m["language"].(string); ok && lang != "" {
			m["level_5"] = lang
		}
	}
	if v, ok := m["level_6"]; !ok || v == nil {
		if format, ok := m["format"].(string); ok && format != "" {
			m["level_6"] = format
		}
	}
}

func firstNonEmptyString(m metadatastore.Metadata, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// validate enforces the structural rules on an incoming record.
func validate(m metadatastore.Metadata) error {
	if m == nil {
		return fmt.Errorf("%w: metadata is nil", ErrInvalidMetadata)
	}

	docID, ok := m["doc_id"]
	if !ok {
		return fmt.Errorf("%w: doc_id is required", ErrInvalidMetadata)
	}
	if s, ok := docID.(string); !ok || s == "" {
		return fmt.Errorf("%w: doc_id must be a non-empty string", ErrInvalidMetadata)
	}

	for _, key := range []string{"original_text", "content"} {
		if v, ok := m[key]; ok {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, key)
			}
			if len(s) > maxContentBytes {
				return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidMetadata, key, maxContentBytes)
			}
		}
	}

	for i := 1; i <= 6; i++ {
		key := fmt.Sprintf("level_%d", i)
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, key)
		}
		if len(s) > maxLevelChars {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidMetadata, key, maxLevelChars)
		}
	}

	for _, key := range []string{"createdAt", "lastUpdated"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, key)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("%w: %s is not ISO-8601: %v", ErrInvalidMetadata, key, err)
		}
	}

	return nil
}
