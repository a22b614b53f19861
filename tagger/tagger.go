// Package tagger holds the types shared by the autotagger backends.
package tagger

import (
	"sort"
)

// TagScore pairs a tag name with the model's confidence for it.
type TagScore struct {
	Tag   string  `json:"tag"`
	Score float32 `json:"score"`
}

// Result is the normalized response of every backend. Tags carries the
// order (descending score, or the external script's own order); Details is
// present only for backends that report scores.
type Result struct {
	Tags    []string           `json:"tags"`
	Details map[string]float32 `json:"details,omitempty"`
}

// FromTags builds a Result that preserves the given order and has no
// scores. The tag list is never nil so clients always see a JSON array.
func FromTags(tags []string) *Result {
	if tags == nil {
		tags = []string{}
	}
	return &Result{Tags: tags}
}

// FromScores sorts items by descending score, keeps at most limit entries
// (no cap when limit <= 0), and builds both the ordered tag list and the
// score map.
func FromScores(items []TagScore, limit int) *Result {
	sorted := make([]TagScore, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	tags := make([]string, 0, len(sorted))
	details := make(map[string]float32, len(sorted))
	for _, it := range sorted {
		tags = append(tags, it.Tag)
		details[it.Tag] = it.Score
	}
	return &Result{Tags: tags, Details: details}
}
