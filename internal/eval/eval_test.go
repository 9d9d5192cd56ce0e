package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
)

// fakeRunner labels by keyword: "true" supports, "false" refutes, "boom"
// fails, anything else is NEI with strong contradiction
type fakeRunner struct {
	mu    sync.Mutex
	modes []model.VerifyMode
	gens  []string
}

func (f *fakeRunner) RunOne(_ context.Context, claim string, mode model.VerifyMode) (model.QueryResult, error) {
	f.mu.Lock()
	f.modes = append(f.modes, mode)
	f.mu.Unlock()

	res := model.QueryResult{Claim: claim, Generations: f.gens}
	switch {
	case strings.Contains(claim, "boom"):
		return model.QueryResult{}, model.NewProviderError("nli", "score", errors.New("unavailable"))
	case strings.Contains(claim, "true"):
		res.Label = model.LabelSupports
		res.Verification.SupportStrength = 1
	case strings.Contains(claim, "false"):
		res.Label = model.LabelRefutes
		res.Verification.ContradictionStrength = 1
	default:
		res.Label = model.LabelNotEnoughInfo
		res.Verification.ContradictionStrength = 0.4
	}
	return res, nil
}

func TestParseTask(t *testing.T) {
	task, err := ParseTask("fever")
	require.NoError(t, err)
	assert.Equal(t, model.ModeSingle, task.Mode())

	task, err = ParseTask("hotpotqa")
	require.NoError(t, err)
	assert.Equal(t, model.ModeMulti, task.Mode())

	_, err = ParseTask("squad")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestRunFever(t *testing.T) {
	examples := []model.FeverExample{
		{ID: 1, Claim: "this is true", Label: model.LabelSupports},
		{ID: 2, Claim: "this is false", Label: model.LabelSupports},
		{ID: 3, Claim: "boom", Label: model.LabelRefutes},
		{ID: 4, Claim: "unclear", Label: model.LabelNotEnoughInfo},
	}
	r := &fakeRunner{}

	res := RunFever(context.Background(), r, examples, Options{Workers: 3, SelfConsistency: true})

	assert.Equal(t, TaskFever, res.Task)
	require.Len(t, res.Rows, 4)
	for i, row := range res.Rows {
		assert.Equal(t, []string{"1", "2", "3", "4"}[i], row.ID, "rows keep input order")
	}
	for _, m := range r.modes {
		assert.Equal(t, model.ModeSingle, m)
	}

	assert.Equal(t, "SUPPORTS", res.Rows[0].Pred)
	assert.True(t, res.Rows[2].Failed())
	assert.Contains(t, res.Rows[2].Err, "unavailable")
	assert.Equal(t, "REFUTES", res.Rows[2].Gold)
	assert.Nil(t, res.Rows[0].SelfConsistency, "no generations")

	assert.Equal(t, 4, res.Summary.Total)
	assert.Equal(t, 3, res.Summary.Succeeded)
	assert.Equal(t, 1, res.Summary.Failed)
	acc, ok := res.Summary.Get(metrics.MetricAcc)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, acc, 1e-9)
	hall, _ := res.Summary.Get(metrics.MetricHallucination)
	assert.InDelta(t, 2.0/3.0, hall, 1e-9)
	_, ok = res.Summary.Get(metrics.MetricSelfConsistency)
	assert.False(t, ok)
}

func TestRunHotpot_VerdictAnswers(t *testing.T) {
	examples := []model.HotpotExample{
		{ID: "a", Question: "is it true?", Answer: "yes"},
		{ID: "b", Question: "is it false?", Answer: "yes"},
		{ID: "c", Question: "who knows?", Answer: "Paris"},
	}
	r := &fakeRunner{gens: []string{"Paris", "paris", "Rome"}}

	res := RunHotpot(context.Background(), r, examples, Options{Workers: 2, SelfConsistency: false})

	assert.Equal(t, []string{"yes", "no", "unknown"}, []string{res.Rows[0].Pred, res.Rows[1].Pred, res.Rows[2].Pred})
	for _, m := range r.modes {
		assert.Equal(t, model.ModeMulti, m)
	}
	acc, _ := res.Summary.Get(metrics.MetricAcc)
	assert.InDelta(t, 1.0/3.0, acc, 1e-9)
	assert.Nil(t, res.Rows[0].SelfConsistency)
}

func TestRunHotpot_GenerationAnswers(t *testing.T) {
	examples := []model.HotpotExample{{ID: "c", Question: "capital of France?", Answer: "Paris"}}
	r := &fakeRunner{gens: []string{"Paris", " paris", "Rome"}}

	res := RunHotpot(context.Background(), r, examples, Options{SelfConsistency: true, Generation: true})

	row := res.Rows[0]
	assert.Equal(t, "paris", row.Pred)
	assert.Equal(t, 1.0, *row.Acc)
	require.NotNil(t, row.SelfConsistency)
	assert.InDelta(t, 2.0/3.0, *row.SelfConsistency, 1e-9)
}

func TestRun_Empty(t *testing.T) {
	res := Run(context.Background(), &fakeRunner{}, TaskFever, nil, Options{})
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Summary.Metrics)
	assert.Zero(t, res.Summary.Total)
}

// cancellingRunner cancels the run while evaluating its first query
type cancellingRunner struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingRunner) RunOne(ctx context.Context, _ string, _ model.VerifyMode) (model.QueryResult, error) {
	c.once.Do(c.cancel)
	return model.QueryResult{}, ctx.Err()
}

func TestRun_CancelledRunCountsEveryQuery(t *testing.T) {
	queries := make([]model.Query, 20)
	for i := range queries {
		queries[i] = model.Query{ID: fmt.Sprintf("q%d", i), Text: "claim", Gold: string(model.LabelSupports)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := Run(ctx, &cancellingRunner{cancel: cancel}, TaskFever, queries, Options{Workers: 1})

	require.Len(t, res.Rows, 20)
	assert.Equal(t, 20, res.Summary.Total)
	assert.Equal(t, 20, res.Summary.Failed)
	assert.Zero(t, res.Summary.Succeeded)
	assert.Positive(t, res.Summary.Skipped)
	for i, row := range res.Rows {
		assert.Equal(t, queries[i].ID, row.ID)
		assert.Contains(t, row.Err, context.Canceled.Error())
	}
}

func TestScoreRow(t *testing.T) {
	res := model.QueryResult{Label: model.LabelSupports}

	fever := ScoreRow(TaskFever, model.Query{ID: "f", Gold: string(model.LabelSupports)}, res, Options{})
	assert.Equal(t, string(model.LabelSupports), fever.Pred)
	assert.Equal(t, 1.0, *fever.Acc)

	hotpot := ScoreRow(TaskHotpot, model.Query{ID: "h", Gold: "yes"}, res, Options{})
	assert.Equal(t, "yes", hotpot.Pred)
	assert.Equal(t, 1.0, *hotpot.Acc)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Generation.Enabled = true
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, Options{Workers: 4, SelfConsistency: true, Generation: true}, opts)
}
