package pipeline

import (
	"context"

	"github.com/ppiankov/ragtrust/internal/cache"
	"github.com/ppiankov/ragtrust/internal/fusion"
	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/nli"
	"github.com/ppiankov/ragtrust/internal/retrieve"
	"github.com/ppiankov/ragtrust/internal/worker"
)

// Builder constructs pipelines from configuration. Pipelines share the
// rate limiter only. Each one gets its own score and embedding cache, so a
// rebuilt ablation variant starts cold unless a disk cache is configured.
type Builder struct {
	Limiter *worker.Limiter // nil disables rate limiting

	// NewCache creates the cache for one pipeline; nil disables caching
	NewCache func() cache.Cache

	// Constructors for external providers; tests replace them with fakes
	NewProvider func(llm.Config) (llm.Provider, error)
	NewEmbedder func(llm.Config) (llm.Embedder, error)
	NewScorer   func(model.VerificationConfig, model.ProviderConfig, llm.Provider) (nli.Scorer, string, error)
}

// NewBuilder creates a builder with the cache and limiter described by cfg
func NewBuilder(cfg model.Config) *Builder {
	return &Builder{
		Limiter:     worker.NewLimiter(cfg.Providers.RequestsPerSecond, cfg.Providers.Burst),
		NewCache:    func() cache.Cache { return cache.FromConfig(cfg.Cache) },
		NewProvider: llm.NewProvider,
		NewEmbedder: llm.NewEmbedder,
		NewScorer:   nli.FromConfig,
	}
}

// Build creates a fresh pipeline over corpus. Nothing is shared with
// earlier pipelines except the limiter.
func (b *Builder) Build(ctx context.Context, cfg model.Config, corpus []model.Passage) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	guard := worker.Guard{Limiter: b.Limiter, Timeout: cfg.Providers.Timeout}

	var c cache.Cache
	if b.NewCache != nil {
		c = b.NewCache()
	}

	var provider llm.Provider
	if cfg.Generation.Enabled || cfg.Verification.Scorer == nli.KindLLM {
		p, err := b.NewProvider(llm.ConfigFromModel(cfg.Generation.Provider, cfg.Generation.Model, cfg.Generation, cfg.Providers))
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, &model.ConfigError{Field: "generation.provider", Reason: "a provider is required for generation and the llm scorer"}
		}
		provider = p
	}

	scorer, scope, err := b.NewScorer(cfg.Verification, cfg.Providers, provider)
	if err != nil {
		return nil, err
	}
	scorer = nli.Cached(nli.Guarded(scorer, "nli", guard), c, scope)

	var generator *llm.Generator
	if cfg.Generation.Enabled {
		generator, err = llm.NewGenerator(provider, guard, cfg.Generation.NumSamples)
		if err != nil {
			return nil, err
		}
	}

	return New(ctx, cfg, corpus, Components{
		Index:     b.indexFunc(cfg, guard, c),
		Scorer:    scorer,
		Generator: generator,
	})
}

func (b *Builder) indexFunc(cfg model.Config, guard worker.Guard, c cache.Cache) IndexFunc {
	return func(ctx context.Context, corpus []model.Passage) (Retriever, error) {
		var sources []fusion.Retriever

		if cfg.Retrieval.UseLexical {
			lex, err := retrieve.NewBM25(corpus, cfg.Retrieval.LexicalTokenizer)
			if err != nil {
				return nil, err
			}
			sources = append(sources, lex)
		}

		if cfg.Retrieval.UseDense {
			embCfg := llm.ConfigFromModel(cfg.Retrieval.EmbeddingProvider, "", cfg.Generation, cfg.Providers)
			embCfg.EmbeddingModel = cfg.Retrieval.DenseModel
			embedder, err := b.NewEmbedder(embCfg)
			if err != nil {
				return nil, err
			}
			dense, err := retrieve.NewDense(ctx, corpus, embedder, retrieve.DenseOptions{
				Model: cfg.Retrieval.EmbeddingProvider + ":" + cfg.Retrieval.DenseModel,
				Cache: c,
				Guard: guard,
			})
			if err != nil {
				return nil, err
			}
			sources = append(sources, dense)
		}

		return fusion.NewHybrid(sources...)
	}
}
