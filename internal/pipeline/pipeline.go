// Package pipeline runs one claim or question through retrieval,
// poisoning, reranking, verification, decision and optional generation.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ppiankov/ragtrust/internal/decide"
	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/nli"
	"github.com/ppiankov/ragtrust/internal/poison"
	"github.com/ppiankov/ragtrust/internal/verify"
)

// Retriever returns fused, scored passages for a query. *fusion.Hybrid
// satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.Passage, error)
}

// IndexFunc builds a retriever over the corpus the pipeline will search.
// With corpus-level poisoning the corpus it receives is already poisoned.
type IndexFunc func(ctx context.Context, corpus []model.Passage) (Retriever, error)

// Components are the external collaborators of a pipeline
type Components struct {
	Index     IndexFunc
	Scorer    nli.Scorer
	Generator *llm.Generator // required when generation is enabled
}

// Pipeline orchestrates the per-query chain. It holds no per-query state
// and is safe for concurrent use when its collaborators are.
type Pipeline struct {
	cfg        model.Config
	retriever  Retriever
	poisoner   *poison.Poisoner // nil unless the retrieval set is poisoned
	verifier   *verify.Verifier
	engine     *decide.Engine
	generator  *llm.Generator
	corpusSize int
	injected   int // corpus passages poisoned before indexing
}

// New validates the configuration, applies corpus-level poisoning and
// indexes the corpus. An empty corpus is a data error.
func New(ctx context.Context, cfg model.Config, corpus []model.Passage, c Components) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		return nil, &model.DataError{Reason: "corpus is empty"}
	}
	if c.Index == nil {
		return nil, &model.ConfigError{Field: "retrieval", Reason: "no index builder"}
	}
	if cfg.Generation.Enabled && c.Generator == nil {
		return nil, &model.ConfigError{Field: "generation", Reason: "generation enabled without a generator"}
	}

	poisoner, err := poison.New(cfg.Poisoning.Strategy, cfg.Poisoning.EffectiveRate(), poison.NewSampler(cfg.Seed))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, corpusSize: len(corpus)}

	if cfg.Poisoning.Enabled {
		switch cfg.Poisoning.Target {
		case model.TargetCorpus:
			corpus = poisoner.ApplyToCorpus(corpus)
			p.injected = len(poison.Indices(corpus))
			logger.Info("poisoned %d of %d corpus passages", p.injected, len(corpus))
		case model.TargetRetrievalSet:
			p.poisoner = poisoner
		}
	}

	p.retriever, err = c.Index(ctx, corpus)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	p.verifier, err = verify.FromConfig(c.Scorer, cfg.Verification)
	if err != nil {
		return nil, err
	}

	params, err := cfg.Decision.Params()
	if err != nil {
		return nil, err
	}
	p.engine = decide.New(params)

	if cfg.Generation.Enabled {
		p.generator = c.Generator
	}
	return p, nil
}

// Config returns the configuration the pipeline was built from
func (p *Pipeline) Config() model.Config { return p.cfg }

// Retriever exposes the index for retrieval diagnostics
func (p *Pipeline) Retriever() Retriever { return p.retriever }

// CorpusSize returns the number of indexed passages
func (p *Pipeline) CorpusSize() int { return p.corpusSize }

// CorpusInjected returns how many corpus passages were poisoned at build time
func (p *Pipeline) CorpusInjected() int { return p.injected }

// Decide resolves a verification into a label with the pipeline's
// decision parameters
func (p *Pipeline) Decide(v model.VerificationResult) model.Label {
	return p.engine.Decide(v)
}

// RunOne runs a single claim through the chain. Provider failures abort the
// query and are returned; they never degrade into a neutral verdict.
func (p *Pipeline) RunOne(ctx context.Context, claim string, mode model.VerifyMode) (model.QueryResult, error) {
	retrieved, err := p.retriever.Retrieve(ctx, claim, p.cfg.Retrieval.K)
	if err != nil {
		return model.QueryResult{}, err
	}
	if len(retrieved) == 0 && p.cfg.Verification.RequireEvidence {
		return model.QueryResult{}, &model.DataError{Reason: fmt.Sprintf("no evidence retrieved for %q", claim)}
	}

	poisoned := retrieved
	if p.poisoner != nil {
		poisoned = p.poisoner.Apply(retrieved)
	}

	verified := Rerank(poisoned, p.cfg.Verification.TopNVerify)
	logger.Debug("retrieved=%d injected=%d verifying=%d", len(retrieved), len(poison.Indices(poisoned)), len(verified))

	verification, err := p.verifier.Analyze(ctx, claim, verified, mode)
	if err != nil {
		return model.QueryResult{}, err
	}

	result := model.QueryResult{
		Claim:        claim,
		Retrieved:    retrieved,
		Poisoned:     poisoned,
		Verified:     verified,
		Verification: verification,
		Label:        p.engine.Decide(verification),
		Generations:  []string{},
	}

	if p.generator != nil {
		gens, err := p.generator.Generate(ctx, BuildMetaPrompt(claim, verified))
		if err != nil {
			return model.QueryResult{}, fmt.Errorf("generate: %w", err)
		}
		result.Generations = gens
	}
	return result, nil
}

// Rerank orders passages by retriever score, highest first, and keeps the
// top n. Unscored passages rank as 0 and ties keep their input order.
func Rerank(passages []model.Passage, n int) []model.Passage {
	ranked := model.ClonePassages(passages)
	slices.SortStableFunc(ranked, func(a, b model.Passage) int {
		return cmp.Compare(b.ScoreOr(0), a.ScoreOr(0))
	})
	return ranked[:max(0, min(n, len(ranked)))]
}

// promptEvidence is how many passages the generation prompt lists
const promptEvidence = 6

// BuildMetaPrompt builds the generation prompt: bulleted evidence, an
// instruction to answer only from it, and an UNKNOWN abstention
func BuildMetaPrompt(query string, passages []model.Passage) string {
	var bullets []string
	for _, p := range passages[:min(promptEvidence, len(passages))] {
		bullets = append(bullets, "- "+p.Text)
	}

	var b strings.Builder
	b.WriteString("Answer the question using ONLY the evidence bullets.\n")
	b.WriteString("If the answer is not directly stated, output: UNKNOWN.\n")
	b.WriteString("Return a short answer (1-5 words).\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n", query)
	fmt.Fprintf(&b, "EVIDENCE:\n%s\n\n", strings.Join(bullets, "\n"))
	b.WriteString("ANSWER:")
	return b.String()
}
