package fusion

import (
	"context"
	"fmt"

	"github.com/ppiankov/ragtrust/internal/model"
)

// Retriever is one ranked retrieval source (lexical, dense, ...)
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, query string, k int) ([]Scored, error)
}

// Hybrid queries every enabled source and fuses their results
type Hybrid struct {
	sources []Retriever
}

// NewHybrid builds a hybrid retriever. Nil sources are treated as disabled;
// at least one source must remain.
func NewHybrid(sources ...Retriever) (*Hybrid, error) {
	var enabled []Retriever
	for _, s := range sources {
		if s != nil {
			enabled = append(enabled, s)
		}
	}
	if len(enabled) == 0 {
		return nil, &model.ConfigError{Field: "retrieval", Reason: "no retrieval source enabled"}
	}
	return &Hybrid{sources: enabled}, nil
}

// Sources returns the names of the enabled sources, in query order
func (h *Hybrid) Sources() []string {
	names := make([]string, len(h.sources))
	for i, s := range h.sources {
		names[i] = s.Name()
	}
	return names
}

// Retrieve asks each source for its top k hits and fuses them down to k.
// A failing source aborts the retrieval; it never degrades to an empty list.
func (h *Hybrid) Retrieve(ctx context.Context, query string, k int) ([]model.Passage, error) {
	lists := make([][]Scored, 0, len(h.sources))
	for _, s := range h.sources {
		hits, err := s.Retrieve(ctx, query, k)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", model.NewProviderError(s.Name(), "retrieve", err))
		}
		lists = append(lists, hits)
	}
	return Fuse(k, lists...), nil
}
