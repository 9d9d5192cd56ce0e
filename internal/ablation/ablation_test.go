package ablation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/nli"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/poison"
)

type listRetriever []model.Passage

func (l listRetriever) Retrieve(_ context.Context, _ string, k int) ([]model.Passage, error) {
	out := make([]model.Passage, 0, k)
	for i, p := range l[:min(k, len(l))] {
		out = append(out, p.WithScore(float64(len(l)-i)))
	}
	return out, nil
}

// weakScorer entails Paris passages with a probability of 0.35, so only
// thresholds at or below 0.35 turn them into entail votes
var weakScorer = nli.ScorerFunc(func(_ context.Context, premise, _ string) (model.NLIScores, error) {
	if strings.Contains(premise, "Paris") {
		return model.NLIScores{Entailment: 0.35, Contradiction: 0.05, Neutral: 0.60}, nil
	}
	return model.NLIScores{Entailment: 0.05, Contradiction: 0.05, Neutral: 0.90}, nil
})

func fixture() (model.Config, []model.Passage, []model.Query) {
	cfg := model.DefaultConfig()
	cfg.Poisoning.Enabled = false
	cfg.Cache.Enabled = false
	corpus := []model.Passage{
		{DocID: "Paris__0", Title: "Paris", SentID: "0", Text: "Paris is the capital of France."},
		{DocID: "Paris__1", Title: "Paris", SentID: "1", Text: "Paris lies on the Seine."},
		{DocID: "Lyon__0", Title: "Lyon", SentID: "0", Text: "Lyon is a city."},
	}
	var queries []model.Query
	for _, id := range []string{"q1", "q2", "q3", "q4"} {
		queries = append(queries, model.Query{ID: id, Text: "Paris is the capital of France", Gold: string(model.LabelSupports)})
	}
	return cfg, corpus, queries
}

func build(seen *[]model.Config) BuildFunc {
	return func(ctx context.Context, cfg model.Config, corpus []model.Passage) (*pipeline.Pipeline, error) {
		if seen != nil {
			*seen = append(*seen, cfg)
		}
		index := func(_ context.Context, c []model.Passage) (pipeline.Retriever, error) {
			return listRetriever(c), nil
		}
		return pipeline.New(ctx, cfg, corpus, pipeline.Components{Index: index, Scorer: weakScorer})
	}
}

func evaluate(ctx context.Context, p *pipeline.Pipeline, cfg model.Config, queries []model.Query) (metrics.Summary, error) {
	return eval.Run(ctx, p, eval.TaskFever, queries, eval.OptionsFromConfig(cfg)).Summary, nil
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 3)
	byName := map[string]model.AblationVariant{}
	for _, r := range rules {
		byName[r.Name] = r
	}
	assert.Equal(t, 0.40, byName["strict"].EntailmentThreshold)
	assert.Equal(t, 0.30, byName["balanced"].ContradictionThreshold)
	assert.Equal(t, 0.45, byName["conservative"].ContradictionThreshold)
}

func TestRun_ThresholdsChangeVotes(t *testing.T) {
	base, corpus, queries := fixture()
	var seen []model.Config

	res, err := Run(context.Background(), base, DefaultRules(), corpus, queries, Options{}, build(&seen), evaluate)
	require.NoError(t, err)
	assert.Equal(t, []string{"balanced", "conservative", "strict"}, res.Names())

	acc := func(name string) float64 {
		v, ok := res[name].Summary.Get(metrics.MetricAcc)
		require.True(t, ok)
		return v
	}
	assert.Equal(t, 1.0, acc("balanced"))
	assert.Equal(t, 0.0, acc("strict"))
	assert.Equal(t, 0.0, acc("conservative"))

	require.Len(t, seen, 3)
	assert.Equal(t, 0.30, seen[0].Verification.EntailmentThreshold, "variants run in name order")
	for _, cfg := range seen {
		assert.Equal(t, base.Decision, cfg.Decision)
		assert.Equal(t, base.Retrieval, cfg.Retrieval)
	}
	assert.Equal(t, 0.55, base.Verification.EntailmentThreshold, "base config untouched")
}

func TestRun_Reproducible(t *testing.T) {
	base, corpus, queries := fixture()
	base.Poisoning.Enabled = true
	base.Poisoning.Rate = 0.3

	opts := Options{Subset: 3, Sampler: poison.NewSampler(base.Seed)}
	first, err := Run(context.Background(), base, DefaultRules(), corpus, queries, opts, build(nil), evaluate)
	require.NoError(t, err)
	second, err := Run(context.Background(), base, DefaultRules(), corpus, queries, opts, build(nil), evaluate)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for _, name := range first.Names() {
		assert.Equal(t, 3, first[name].Summary.Total)
	}
}

func TestRun_Errors(t *testing.T) {
	base, corpus, queries := fixture()

	_, err := Run(context.Background(), base, nil, corpus, queries, Options{}, build(nil), evaluate)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	dup := []model.AblationVariant{{Name: "a", EntailmentThreshold: 0.3, ContradictionThreshold: 0.3}, {Name: "a", EntailmentThreshold: 0.4, ContradictionThreshold: 0.4}}
	_, err = Run(context.Background(), base, dup, corpus, queries, Options{}, build(nil), evaluate)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	bad := []model.AblationVariant{{Name: "a", EntailmentThreshold: 1.3, ContradictionThreshold: 0.3}}
	_, err = Run(context.Background(), base, bad, corpus, queries, Options{}, build(nil), evaluate)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = Run(context.Background(), base, DefaultRules(), nil, queries, Options{}, build(nil), evaluate)
	assert.ErrorIs(t, err, model.ErrData)

	failing := func(context.Context, *pipeline.Pipeline, model.Config, []model.Query) (metrics.Summary, error) {
		return metrics.Summary{}, errors.New("boom")
	}
	_, err = Run(context.Background(), base, DefaultRules(), corpus, queries, Options{}, build(nil), failing)
	assert.ErrorContains(t, err, "rule balanced: evaluate: boom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, base, DefaultRules(), corpus, queries, Options{}, build(nil), evaluate)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubset(t *testing.T) {
	_, _, queries := fixture()

	assert.Len(t, Subset(queries, Options{}), 4)
	assert.Len(t, Subset(queries, Options{Subset: 10}), 4)
	assert.Equal(t, queries[:2], Subset(queries, Options{Subset: 2}))

	sampled := Subset(queries, Options{Subset: 2, Sampler: poison.NewSampler(7)})
	assert.Len(t, sampled, 2)
	assert.Equal(t, sampled, Subset(queries, Options{Subset: 2, Sampler: poison.NewSampler(7)}))
}

func TestResultsTable(t *testing.T) {
	res := Results{
		"b": {Variant: model.AblationVariant{Name: "b", EntailmentThreshold: 0.3, ContradictionThreshold: 0.3},
			Summary: metrics.Summary{Metrics: map[string]float64{"acc": 0.5}, Total: 2, Failed: 1, Succeeded: 1}},
		"a": {Variant: model.AblationVariant{Name: "a", EntailmentThreshold: 0.4, ContradictionThreshold: 0.45},
			Summary: metrics.Summary{Metrics: map[string]float64{"acc": 1, "hallucination": 0}, Total: 2, Succeeded: 2}},
	}

	table := res.Table()
	require.Len(t, table, 3)
	assert.Equal(t, []string{"rule", "entailment_threshold", "contradiction_threshold", "acc", "hallucination", "self_consistency", "failed"}, table[0])
	assert.Equal(t, []string{"a", "0.40", "0.45", "1.0000", "0.0000", "-", "0/2"}, table[1])
	assert.Equal(t, []string{"b", "0.30", "0.30", "0.5000", "-", "-", "1/2"}, table[2])
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`
[rules.loose]
entailment_threshold = 0.2
contradiction_threshold = 0.25

[rules.tight]
entailment_threshold = 0.6
contradiction_threshold = 0.6
`))
	require.NoError(t, err)
	assert.Equal(t, []model.AblationVariant{
		{Name: "loose", EntailmentThreshold: 0.2, ContradictionThreshold: 0.25},
		{Name: "tight", EntailmentThreshold: 0.6, ContradictionThreshold: 0.6},
	}, rules)

	for name, doc := range map[string]string{
		"syntax":       "[rules.a\n",
		"empty":        "title = 'x'\n",
		"missing key":  "[rules.a]\nentailment_threshold = 0.3\n",
		"out of range": "[rules.a]\nentailment_threshold = 0.3\ncontradiction_threshold = -0.1\n",
		"wrong type":   "[rules.a]\nentailment_threshold = 'high'\ncontradiction_threshold = 0.1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(doc))
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestLoadAndEncodeRules(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRules(&buf, DefaultRules()))

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	want := DefaultRules()
	sortByName(want)
	assert.Equal(t, want, rules)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
