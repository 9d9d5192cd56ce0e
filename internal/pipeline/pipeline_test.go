package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/ragtrust/internal/cache"
	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/nli"
	"github.com/ppiankov/ragtrust/internal/poison"
	"github.com/ppiankov/ragtrust/internal/worker"
)

const claim = "Paris is the capital of France"

func parisCorpus() []model.Passage {
	return []model.Passage{
		{DocID: "Paris__0", Title: "Paris", SentID: "0", Text: "Paris is the capital and largest city of France."},
		{DocID: "Paris__1", Title: "Paris", SentID: "1", Text: "Paris hosts the French government."},
		{DocID: "France__0", Title: "France", SentID: "0", Text: "France's capital city is Paris."},
		{DocID: "Lyon__0", Title: "Lyon", SentID: "0", Text: "Lyon lies on the Rhone."},
	}
}

// staticRetriever returns the whole corpus with descending scores
type staticRetriever struct {
	corpus []model.Passage
	err    error
}

func (r *staticRetriever) Retrieve(_ context.Context, _ string, k int) ([]model.Passage, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.Passage
	for i, p := range r.corpus[:min(k, len(r.corpus))] {
		out = append(out, p.WithScore(float64(len(r.corpus)-i)))
	}
	return out, nil
}

func staticIndex(seen *[]model.Passage) IndexFunc {
	return func(_ context.Context, corpus []model.Passage) (Retriever, error) {
		if seen != nil {
			*seen = corpus
		}
		return &staticRetriever{corpus: corpus}, nil
	}
}

// keywordScorer contradicts poisoned text and entails passages naming Paris
var keywordScorer = nli.ScorerFunc(func(_ context.Context, premise, _ string) (model.NLIScores, error) {
	switch {
	case strings.HasPrefix(premise, "It is not true that"):
		return model.NLIScores{Entailment: 0.05, Contradiction: 0.9, Neutral: 0.05}, nil
	case strings.Contains(premise, "Paris"):
		return model.NLIScores{Entailment: 0.9, Contradiction: 0.05, Neutral: 0.05}, nil
	}
	return model.NLIScores{Entailment: 0.1, Contradiction: 0.1, Neutral: 0.8}, nil
})

func baseConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.Poisoning.Enabled = false
	cfg.Verification.TopNVerify = 4
	cfg.Cache.Enabled = false
	return cfg
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()
	comps := Components{Index: staticIndex(nil), Scorer: keywordScorer}

	_, err := New(ctx, baseConfig(), nil, comps)
	assert.ErrorIs(t, err, model.ErrData)

	bad := baseConfig()
	bad.Poisoning.Rate = 1.5
	_, err = New(ctx, bad, parisCorpus(), comps)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = New(ctx, baseConfig(), parisCorpus(), Components{Scorer: keywordScorer})
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = New(ctx, baseConfig(), parisCorpus(), Components{Index: staticIndex(nil)})
	assert.ErrorIs(t, err, model.ErrConfiguration)

	gen := baseConfig()
	gen.Generation.Enabled = true
	_, err = New(ctx, gen, parisCorpus(), comps)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestRunOne_CleanEvidenceSupports(t *testing.T) {
	p, err := New(context.Background(), baseConfig(), parisCorpus(), Components{Index: staticIndex(nil), Scorer: keywordScorer})
	require.NoError(t, err)
	assert.Equal(t, 4, p.CorpusSize())

	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)

	assert.Equal(t, claim, res.Claim)
	assert.Equal(t, model.LabelSupports, res.Label)
	assert.Equal(t, res.Retrieved, res.Poisoned)
	assert.Len(t, res.Verified, 4)
	assert.Zero(t, res.InjectedCount())
	assert.Equal(t, model.Votes{Entail: 3, Neutral: 1}, res.Verification.Votes)
	assert.NotNil(t, res.Generations)
	assert.Empty(t, res.Generations)
}

func TestRunOne_RetrievalSetPoisoningForcesNEI(t *testing.T) {
	cfg := baseConfig()
	cfg.Poisoning.Enabled = true
	cfg.Poisoning.Rate = 0.5
	cfg.Poisoning.Target = model.TargetRetrievalSet

	var indexed []model.Passage
	p, err := New(context.Background(), cfg, parisCorpus(), Components{Index: staticIndex(&indexed), Scorer: keywordScorer})
	require.NoError(t, err)
	assert.Empty(t, poison.Indices(indexed), "corpus stays clean")

	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)

	assert.Equal(t, 2, res.InjectedCount())
	assert.Empty(t, poison.Indices(res.Retrieved), "retrieved passages are not modified")
	assert.True(t, res.Verification.Conflict)
	assert.Equal(t, model.LabelNotEnoughInfo, res.Label)

	again, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, res.Poisoned, again.Poisoned)
}

func TestRunOne_CorpusPoisoning(t *testing.T) {
	cfg := baseConfig()
	cfg.Poisoning.Enabled = true
	cfg.Poisoning.Rate = 0.25
	cfg.Poisoning.Target = model.TargetCorpus

	var indexed []model.Passage
	p, err := New(context.Background(), cfg, parisCorpus(), Components{Index: staticIndex(&indexed), Scorer: keywordScorer})
	require.NoError(t, err)
	assert.Equal(t, 1, p.CorpusInjected())
	assert.Len(t, poison.Indices(indexed), 1)

	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, res.Retrieved, res.Poisoned, "no second round of poisoning")
	assert.Equal(t, 1, res.InjectedCount())
}

func TestRunOne_RequireEvidence(t *testing.T) {
	cfg := baseConfig()
	cfg.Verification.RequireEvidence = true
	empty := func(context.Context, []model.Passage) (Retriever, error) {
		return &staticRetriever{}, nil
	}

	p, err := New(context.Background(), cfg, parisCorpus(), Components{Index: empty, Scorer: keywordScorer})
	require.NoError(t, err)
	_, err = p.RunOne(context.Background(), claim, model.ModeSingle)
	assert.ErrorIs(t, err, model.ErrData)

	cfg.Verification.RequireEvidence = false
	p, err = New(context.Background(), cfg, parisCorpus(), Components{Index: empty, Scorer: keywordScorer})
	require.NoError(t, err)
	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, model.LabelNotEnoughInfo, res.Label)
}

func TestRunOne_ProviderErrorsPropagate(t *testing.T) {
	failing := nli.ScorerFunc(func(context.Context, string, string) (model.NLIScores, error) {
		return model.NLIScores{}, errors.New("scorer down")
	})
	p, err := New(context.Background(), baseConfig(), parisCorpus(), Components{Index: staticIndex(nil), Scorer: failing})
	require.NoError(t, err)

	_, err = p.RunOne(context.Background(), claim, model.ModeSingle)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExternalProvider)

	broken := func(context.Context, []model.Passage) (Retriever, error) {
		return &staticRetriever{err: model.NewProviderError("lexical", "retrieve", errors.New("index gone"))}, nil
	}
	p, err = New(context.Background(), baseConfig(), parisCorpus(), Components{Index: broken, Scorer: keywordScorer})
	require.NoError(t, err)
	_, err = p.RunOne(context.Background(), claim, model.ModeSingle)
	assert.ErrorIs(t, err, model.ErrExternalProvider)
}

func TestRunOne_MultiMode(t *testing.T) {
	p, err := New(context.Background(), baseConfig(), parisCorpus(), Components{Index: staticIndex(nil), Scorer: keywordScorer})
	require.NoError(t, err)

	res, err := p.RunOne(context.Background(), claim, model.ModeMulti)
	require.NoError(t, err)
	require.Len(t, res.Verification.Details, 1)
	assert.Equal(t, 1.0, res.Verification.SupportStrength)
	assert.Equal(t, model.LabelSupports, res.Label)
}

type scriptedProvider struct {
	calls   atomic.Int32
	answers []string
	prompt  atomic.Value
}

func (s *scriptedProvider) Name() string                     { return "scripted" }
func (s *scriptedProvider) IsAvailable(context.Context) bool { return true }
func (s *scriptedProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.prompt.Store(req.Prompt)
	i := int(s.calls.Add(1)) - 1
	return &llm.Response{Text: s.answers[i%len(s.answers)]}, nil
}

func TestRunOne_Generation(t *testing.T) {
	cfg := baseConfig()
	cfg.Generation.Enabled = true
	cfg.Generation.NumSamples = 3

	prov := &scriptedProvider{answers: []string{"Paris", "paris", "Lyon"}}
	gen, err := llm.NewGenerator(prov, worker.Guard{}, cfg.Generation.NumSamples)
	require.NoError(t, err)

	p, err := New(context.Background(), cfg, parisCorpus(), Components{Index: staticIndex(nil), Scorer: keywordScorer, Generator: gen})
	require.NoError(t, err)

	res, err := p.RunOne(context.Background(), "What is the capital of France?", model.ModeMulti)
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris", "paris", "Lyon"}, res.Generations)
	assert.Contains(t, prov.prompt.Load(), "QUESTION: What is the capital of France?")
	assert.Contains(t, prov.prompt.Load(), "- Paris is the capital and largest city of France.")
}

func TestRerank(t *testing.T) {
	in := []model.Passage{
		{Text: "a"},
		model.Passage{Text: "b"}.WithScore(0.5),
		model.Passage{Text: "c"}.WithScore(2),
		model.Passage{Text: "d"}.WithScore(0.5),
		model.Passage{Text: "e"}.WithScore(-1),
	}

	got := Rerank(in, 4)
	var texts []string
	for _, p := range got {
		texts = append(texts, p.Text)
	}
	assert.Equal(t, []string{"c", "b", "d", "a"}, texts)
	assert.Equal(t, "a", in[0].Text, "input order untouched")
	assert.Len(t, Rerank(in, 10), 5)
	assert.Empty(t, Rerank(in, 0))
	assert.Empty(t, Rerank(nil, 3))
}

func TestBuildMetaPrompt(t *testing.T) {
	var passages []model.Passage
	for _, s := range []string{"one", "two", "three", "four", "five", "six", "seven"} {
		passages = append(passages, model.Passage{Text: s})
	}

	want := "Answer the question using ONLY the evidence bullets.\n" +
		"If the answer is not directly stated, output: UNKNOWN.\n" +
		"Return a short answer (1-5 words).\n\n" +
		"QUESTION: Who?\n" +
		"EVIDENCE:\n- one\n- two\n- three\n- four\n- five\n- six\n\n" +
		"ANSWER:"
	assert.Equal(t, want, BuildMetaPrompt("Who?", passages))
	assert.Contains(t, BuildMetaPrompt("Who?", nil), "EVIDENCE:\n\n\nANSWER:")
}

type fakeEmbedder struct{ calls atomic.Int32 }

func (e *fakeEmbedder) Name() string { return "fake" }
func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := []float32{0.1, 0.1}
		if strings.Contains(text, "Paris") {
			v[0] = 1
		}
		out[i] = v
	}
	return out, nil
}

func testBuilder(emb *fakeEmbedder, scorer nli.Scorer, prov llm.Provider) *Builder {
	return &Builder{
		Limiter: worker.NewLimiter(0, 1),
		NewCache: func() cache.Cache {
			return cache.NewMemoryCache(time.Minute, time.Minute)
		},
		NewProvider: func(llm.Config) (llm.Provider, error) {
			return prov, nil
		},
		NewEmbedder: func(llm.Config) (llm.Embedder, error) {
			return emb, nil
		},
		NewScorer: func(model.VerificationConfig, model.ProviderConfig, llm.Provider) (nli.Scorer, string, error) {
			return scorer, "test", nil
		},
	}
}

func TestBuilder_BuildsHybridPipeline(t *testing.T) {
	var scored atomic.Int32
	counting := nli.ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		scored.Add(1)
		return keywordScorer(ctx, premise, hypothesis)
	})
	emb := &fakeEmbedder{}
	b := testBuilder(emb, counting, nil)

	cfg := baseConfig()
	p, err := b.Build(context.Background(), cfg, parisCorpus())
	require.NoError(t, err)

	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, model.LabelSupports, res.Label)
	for _, r := range res.Retrieved {
		require.NotNil(t, r.Score)
	}
	first := scored.Load()
	assert.Equal(t, int32(4), first)

	// the same pipeline answers a repeated claim from its cache
	embedCalls := emb.calls.Load()
	_, err = p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, first, scored.Load())
	assert.Equal(t, embedCalls, emb.calls.Load())
}

func TestBuilder_RebuiltPipelineStartsCold(t *testing.T) {
	var scored atomic.Int32
	counting := nli.ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		scored.Add(1)
		return keywordScorer(ctx, premise, hypothesis)
	})
	emb := &fakeEmbedder{}
	b := testBuilder(emb, counting, nil)
	cfg := baseConfig()

	p, err := b.Build(context.Background(), cfg, parisCorpus())
	require.NoError(t, err)
	_, err = p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	first, firstEmbeds := scored.Load(), emb.calls.Load()

	p2, err := b.Build(context.Background(), cfg.WithVerificationThresholds(0.4, 0.4), parisCorpus())
	require.NoError(t, err)
	_, err = p2.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Equal(t, 2*first, scored.Load(), "scores must not carry over between pipelines")
	assert.Equal(t, 2*firstEmbeds, emb.calls.Load(), "embeddings must not carry over between pipelines")
}

func TestBuilder_SharedCacheIsReused(t *testing.T) {
	var scored atomic.Int32
	counting := nli.ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		scored.Add(1)
		return keywordScorer(ctx, premise, hypothesis)
	})
	b := testBuilder(&fakeEmbedder{}, counting, nil)
	shared := cache.NewMemoryCache(time.Minute, time.Minute)
	b.NewCache = func() cache.Cache { return shared }

	for range 2 {
		p, err := b.Build(context.Background(), baseConfig(), parisCorpus())
		require.NoError(t, err)
		_, err = p.RunOne(context.Background(), claim, model.ModeSingle)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), scored.Load())
}

func TestBuilder_CorpusPoisonKeepsSourceTag(t *testing.T) {
	cfg := baseConfig()
	cfg.Retrieval.UseDense = false
	cfg.Poisoning.Enabled = true
	cfg.Poisoning.Rate = 1.0
	cfg.Poisoning.Target = model.TargetCorpus

	b := testBuilder(&fakeEmbedder{}, keywordScorer, nil)
	p, err := b.Build(context.Background(), cfg, parisCorpus())
	require.NoError(t, err)

	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	require.NotEmpty(t, res.Retrieved)
	for _, r := range res.Retrieved {
		assert.True(t, r.IsPoison, r.DocID)
		assert.Equal(t, model.SourcePoison, r.Source, r.DocID)
	}
}

func TestBuilder_Errors(t *testing.T) {
	b := testBuilder(&fakeEmbedder{}, keywordScorer, nil)

	bad := baseConfig()
	bad.Retrieval.K = 0
	_, err := b.Build(context.Background(), bad, parisCorpus())
	assert.ErrorIs(t, err, model.ErrConfiguration)

	gen := baseConfig()
	gen.Generation.Enabled = true
	_, err = b.Build(context.Background(), gen, parisCorpus())
	assert.ErrorIs(t, err, model.ErrConfiguration, "generation without a provider")

	b = testBuilder(&fakeEmbedder{}, keywordScorer, &scriptedProvider{answers: []string{"yes"}})
	p, err := b.Build(context.Background(), gen, parisCorpus())
	require.NoError(t, err)
	res, err := p.RunOne(context.Background(), claim, model.ModeSingle)
	require.NoError(t, err)
	assert.Len(t, res.Generations, gen.Generation.NumSamples)
}
