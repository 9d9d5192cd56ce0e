package metrics

import (
	"context"
	"fmt"

	"github.com/ppiankov/ragtrust/internal/dataset"
	"github.com/ppiankov/ragtrust/internal/model"
)

// PassageRetriever returns the top-k passages for a query
type PassageRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.Passage, error)
}

// EvidenceRecallAtK is the fraction of claims for which at least one of
// the top-k retrieved passages comes from a gold evidence page. Titles
// are compared after normalization. No examples scores 0.
func EvidenceRecallAtK(ctx context.Context, r PassageRetriever, examples []model.FeverExample, k int) (float64, error) {
	if len(examples) == 0 {
		return 0, nil
	}

	hits := 0
	for _, ex := range examples {
		retrieved, err := r.Retrieve(ctx, ex.Claim, k)
		if err != nil {
			return 0, fmt.Errorf("recall@%d: claim %d: %w", k, ex.ID, err)
		}

		gold := dataset.GoldTitles(ex)
		for _, p := range retrieved {
			if _, ok := gold[p.Title]; ok {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(examples)), nil
}
