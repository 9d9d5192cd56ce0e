// Package fusion merges ranked passage lists from independent retrieval
// sources into one deduplicated, score-sorted list.
package fusion

import (
	"cmp"
	"slices"

	"github.com/ppiankov/ragtrust/internal/model"
)

// Scored is one ranked retrieval hit
type Scored struct {
	Score   float64
	Passage model.Passage
}

// Fuse merges the lists, keeps the highest score per (title, sent_id, text)
// key, sorts by descending score and truncates to k. Ties keep the order in
// which keys were first seen across the lists. The winning score is attached
// to a copy of the passage; inputs are never modified.
func Fuse(k int, lists ...[]Scored) []model.Passage {
	if k <= 0 {
		return []model.Passage{}
	}

	type entry struct {
		score   float64
		passage model.Passage
	}

	index := make(map[model.PassageKey]int)
	var entries []entry
	for _, list := range lists {
		for _, hit := range list {
			key := hit.Passage.Key()
			if i, ok := index[key]; ok {
				if hit.Score > entries[i].score {
					entries[i] = entry{score: hit.Score, passage: hit.Passage}
				}
				continue
			}
			index[key] = len(entries)
			entries = append(entries, entry{score: hit.Score, passage: hit.Passage})
		}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return cmp.Compare(b.score, a.score)
	})

	if len(entries) > k {
		entries = entries[:k]
	}

	out := make([]model.Passage, len(entries))
	for i, e := range entries {
		out[i] = e.passage.WithScore(e.score)
	}
	return out
}
