package model

// Passage represents a retrievable evidence unit (one corpus sentence)
type Passage struct {
	DocID    string   `json:"doc_id"`             // Stable identifier (poisoned copies carry a suffix)
	Title    string   `json:"title"`              // Normalized page title
	SentID   string   `json:"sent_id"`            // Sentence index within the page
	Text     string   `json:"text"`               // Sentence text
	Source   Source   `json:"source,omitempty"`   // Origin retriever or "poison"
	IsPoison bool     `json:"is_poison"`          // Whether the text was corrupted
	Score    *float64 `json:"score,omitempty"`    // Retriever-assigned relevance (nil when unranked)
}

// PassageKey is the composite identity used to deduplicate passages
type PassageKey struct {
	Title  string
	SentID string
	Text   string
}

// Key returns the (title, sent_id, text) identity of the passage
func (p Passage) Key() PassageKey {
	return PassageKey{Title: p.Title, SentID: p.SentID, Text: p.Text}
}

// ScoreOr returns the retriever score, or fallback when the passage is unranked
func (p Passage) ScoreOr(fallback float64) float64 {
	if p.Score == nil {
		return fallback
	}
	return *p.Score
}

// WithScore returns a copy of the passage carrying the given score
func (p Passage) WithScore(score float64) Passage {
	s := score
	p.Score = &s
	return p
}

// Source tags where a passage came from
type Source string

const (
	SourceLexical Source = "lexical" // BM25 retriever
	SourceDense   Source = "dense"   // Embedding retriever
	SourcePoison  Source = "poison"  // Corrupted by the poison injector
	SourceCorpus  Source = "corpus"  // Loaded straight from a dataset
)

// ClonePassages returns a newly allocated copy of the slice
func ClonePassages(in []Passage) []Passage {
	out := make([]Passage, len(in))
	copy(out, in)
	return out
}
