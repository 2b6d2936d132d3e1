package vectorstore

import "sort"

// matches reports whether payload satisfies filter: AND across keys;
// when the payload value for a key is a slice, the predicate matches if
// any element equals the filter value.
func matches(payload map[string]interface{}, filter Filter) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !valueMatches(got, want) {
			return false
		}
	}
	return true
}

func valueMatches(got, want interface{}) bool {
	switch list := got.(type) {
	case []interface{}:
		for _, v := range list {
			if v == want {
				return true
			}
		}
		return false
	case []string:
		s, ok := want.(string)
		if !ok {
			return false
		}
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	default:
		return got == want
	}
}

// sortHits orders hits by score descending, ties broken by point_id
// lexicographically.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PointID < hits[j].PointID
	})
}
