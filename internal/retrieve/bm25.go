// Package retrieve provides the concrete retrieval sources behind
// fusion.Hybrid: Okapi BM25 over tokenized passages and brute-force cosine
// search over embeddings.
package retrieve

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/ppiankov/ragtrust/internal/fusion"
	"github.com/ppiankov/ragtrust/internal/model"
)

// Okapi BM25 parameters
const (
	BM25K1      = 1.5
	BM25B       = 0.75
	BM25Epsilon = 0.25 // floor for negative idf, as a fraction of the mean idf
)

// Tokenizer names accepted by retrieval.lexical_tokenizer
const (
	TokenizerSimple     = "simple"     // lowercase [a-z0-9]+ runs
	TokenizerWhitespace = "whitespace" // lowercase, split on whitespace
)

var alnum = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize splits text with the named tokenizer ("" means simple)
func Tokenize(text, tokenizer string) []string {
	lower := strings.ToLower(text)
	if tokenizer == TokenizerWhitespace {
		return strings.Fields(lower)
	}
	return alnum.FindAllString(lower, -1)
}

// BM25 is an in-memory Okapi BM25 index over a fixed corpus
type BM25 struct {
	corpus    []model.Passage
	tokenizer string
	tf        []map[string]int // term frequencies per document
	docLen    []int
	avgDocLen float64
	idf       map[string]float64
}

// NewBM25 indexes the corpus. The corpus is not copied and must not be
// modified afterwards.
func NewBM25(corpus []model.Passage, tokenizer string) (*BM25, error) {
	switch tokenizer {
	case "":
		tokenizer = TokenizerSimple
	case TokenizerSimple, TokenizerWhitespace:
	default:
		return nil, &model.ConfigError{Field: "retrieval.lexical_tokenizer", Reason: fmt.Sprintf("unknown tokenizer %q", tokenizer)}
	}

	idx := &BM25{
		corpus:    corpus,
		tokenizer: tokenizer,
		tf:        make([]map[string]int, len(corpus)),
		docLen:    make([]int, len(corpus)),
		idf:       make(map[string]float64),
	}

	df := make(map[string]int)
	total := 0
	for i, p := range corpus {
		tokens := Tokenize(p.Text, tokenizer)
		counts := make(map[string]int, len(tokens))
		for _, t := range tokens {
			counts[t]++
		}
		for t := range counts {
			df[t]++
		}
		idx.tf[i] = counts
		idx.docLen[i] = len(tokens)
		total += len(tokens)
	}
	if len(corpus) > 0 {
		idx.avgDocLen = float64(total) / float64(len(corpus))
	}

	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for t, f := range df {
		v := math.Log(n-float64(f)+0.5) - math.Log(float64(f)+0.5)
		idx.idf[t] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, t)
		}
	}
	if len(df) > 0 {
		floor := BM25Epsilon * idfSum / float64(len(df))
		for _, t := range negative {
			idx.idf[t] = floor
		}
	}
	return idx, nil
}

// Name returns the source name
func (b *BM25) Name() string { return string(model.SourceLexical) }

// Len returns the number of indexed passages
func (b *BM25) Len() int { return len(b.corpus) }

// Scores returns the BM25 score of every document for the query
func (b *BM25) Scores(query string) []float64 {
	scores := make([]float64, len(b.corpus))
	if b.avgDocLen == 0 {
		return scores
	}
	for _, q := range Tokenize(query, b.tokenizer) {
		idf, ok := b.idf[q]
		if !ok {
			continue
		}
		for i, counts := range b.tf {
			f := float64(counts[q])
			if f == 0 {
				continue
			}
			norm := BM25K1 * (1 - BM25B + BM25B*float64(b.docLen[i])/b.avgDocLen)
			scores[i] += idf * f * (BM25K1 + 1) / (f + norm)
		}
	}
	return scores
}

// Retrieve returns the k highest-scoring passages. Ties keep corpus order.
func (b *BM25) Retrieve(ctx context.Context, query string, k int) ([]fusion.Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return topK(b.corpus, b.Scores(query), k, model.SourceLexical), nil
}

// topK ranks passages by score, descending, and tags them with source.
// Poisoned passages keep their poison tag.
func topK(corpus []model.Passage, scores []float64, k int, source model.Source) []fusion.Scored {
	if k <= 0 || len(corpus) == 0 {
		return []fusion.Scored{}
	}
	order := make([]int, len(corpus))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	order = order[:min(k, len(order))]
	out := make([]fusion.Scored, len(order))
	for i, idx := range order {
		p := corpus[idx]
		if !p.IsPoison {
			p.Source = source
		}
		out[i] = fusion.Scored{Score: scores[idx], Passage: p}
	}
	return out
}
