package retrieve

import (
	"context"
	"fmt"
	"math"

	"github.com/ppiankov/ragtrust/internal/cache"
	"github.com/ppiankov/ragtrust/internal/fusion"
	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/worker"
)

// DefaultEmbedBatch is the number of texts sent per embedding call
const DefaultEmbedBatch = 64

// DenseOptions configures a dense retriever
type DenseOptions struct {
	Model     string      // cache scope; should name the embedding model
	BatchSize int         // texts per embedding call, 0 uses DefaultEmbedBatch
	Cache     cache.Cache // optional embedding cache
	Guard     worker.Guard
}

// Dense ranks passages by cosine similarity between L2-normalized
// embeddings, with brute-force search over the whole corpus
type Dense struct {
	corpus   []model.Passage
	vectors  [][]float32
	embedder llm.Embedder
	opts     DenseOptions
}

// NewDense embeds the whole corpus up front
func NewDense(ctx context.Context, corpus []model.Passage, embedder llm.Embedder, opts DenseOptions) (*Dense, error) {
	if embedder == nil {
		return nil, &model.ConfigError{Field: "retrieval.embedding_provider", Reason: "dense retrieval requires an embedder"}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatch
	}

	d := &Dense{corpus: corpus, embedder: embedder, opts: opts}

	texts := make([]string, len(corpus))
	for i, p := range corpus {
		texts[i] = p.Text
	}

	defer logger.Timed(fmt.Sprintf("embed %d passages", len(texts)))()
	vectors, err := d.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("index corpus: %w", err)
	}
	d.vectors = vectors
	return d, nil
}

// Name returns the source name
func (d *Dense) Name() string { return string(model.SourceDense) }

// Retrieve returns the k passages most similar to the query
func (d *Dense) Retrieve(ctx context.Context, query string, k int) ([]fusion.Scored, error) {
	q, err := d.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(d.vectors))
	for i, v := range d.vectors {
		scores[i] = dot(q[0], v)
	}
	return topK(d.corpus, scores, k, model.SourceDense), nil
}

// embed returns normalized vectors, serving what it can from the cache
// and batching the rest through the guarded embedder
func (d *Dense) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int

	for i, t := range texts {
		keys[i] = cache.Key("embed", d.opts.Model, t)
		var v []float32
		if d.opts.Cache != nil && cache.GetJSON(d.opts.Cache, keys[i], &v) {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += d.opts.BatchSize {
		batch := missing[start:min(start+d.opts.BatchSize, len(missing))]
		batchTexts := make([]string, len(batch))
		for j, idx := range batch {
			batchTexts[j] = texts[idx]
		}

		vecs, err := worker.Do(ctx, d.opts.Guard, d.embedder.Name(), "embed", func(ctx context.Context) ([][]float32, error) {
			return d.embedder.Embed(ctx, batchTexts)
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, model.NewProviderError(d.embedder.Name(), "embed", fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch)))
		}

		for j, idx := range batch {
			v := normalize(vecs[j])
			out[idx] = v
			if d.opts.Cache != nil {
				_ = cache.SetJSON(d.opts.Cache, keys[idx], v, 0)
			}
		}
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range min(len(a), len(b)) {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
