// Package eval runs batches of dataset queries through a pipeline and
// turns each outcome into a metrics row.
package eval

import (
	"context"
	"fmt"

	"github.com/ppiankov/ragtrust/internal/dataset"
	"github.com/ppiankov/ragtrust/internal/decide"
	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/worker"
)

// Runner is the part of a pipeline batch evaluation needs
type Runner interface {
	RunOne(ctx context.Context, claim string, mode model.VerifyMode) (model.QueryResult, error)
}

// Task names the dataset a batch belongs to
type Task string

const (
	TaskFever  Task = "fever"
	TaskHotpot Task = "hotpotqa"
)

// ParseTask validates a task name
func ParseTask(s string) (Task, error) {
	switch t := Task(s); t {
	case TaskFever, TaskHotpot:
		return t, nil
	}
	return "", &model.ConfigError{Field: "task", Reason: fmt.Sprintf("unknown task %q (supported: fever, hotpotqa)", s)}
}

// Mode returns the verification mode a task runs in: single for claim
// verification, multi for multi-hop questions
func (t Task) Mode() model.VerifyMode {
	if t == TaskHotpot {
		return model.ModeMulti
	}
	return model.ModeSingle
}

// Options controls per-row metrics
type Options struct {
	Workers         int  // concurrent queries
	SelfConsistency bool // score agreement between generations when present
	Generation      bool // hotpot answers come from generations, not the verdict
}

// OptionsFromConfig reads options from the run configuration
func OptionsFromConfig(cfg model.Config) Options {
	return Options{
		Workers:         cfg.Evaluation.Workers,
		SelfConsistency: cfg.Evaluation.ComputeSelfConsistency,
		Generation:      cfg.Generation.Enabled,
	}
}

// Result is one evaluated batch
type Result struct {
	Task    Task             `json:"task" yaml:"task"`
	Rows    []model.BatchRow `json:"rows" yaml:"rows"`
	Summary metrics.Summary  `json:"summary" yaml:"summary"`
}

// Run evaluates queries concurrently. A failed query becomes a failed row
// and is counted in the summary; it does not stop the batch. Rows keep
// input order.
func Run(ctx context.Context, r Runner, task Task, queries []model.Query, opts Options) Result {
	defer logger.Timed(fmt.Sprintf("%s: %d queries", task, len(queries)))()

	evaluator := worker.EvaluatorFunc(func(ctx context.Context, q model.Query) (model.BatchRow, error) {
		res, err := r.RunOne(ctx, q.Text, task.Mode())
		if err != nil {
			logger.Warn("%s %s: %v", task, q.ID, err)
			return model.BatchRow{}, err
		}
		return ScoreRow(task, q, res, opts), nil
	})

	results := worker.NewBatchProcessor(evaluator, max(1, opts.Workers)).ProcessQueries(ctx, queries)
	rows := worker.Rows(results)
	return Result{Task: task, Rows: rows, Summary: metrics.Summarize(rows)}
}

// RunFever evaluates FEVER claims in single mode
func RunFever(ctx context.Context, r Runner, examples []model.FeverExample, opts Options) Result {
	return Run(ctx, r, TaskFever, dataset.FeverQueries(examples), opts)
}

// RunHotpot evaluates HotpotQA questions in multi mode
func RunHotpot(ctx context.Context, r Runner, examples []model.HotpotExample, opts Options) Result {
	return Run(ctx, r, TaskHotpot, dataset.HotpotQueries(examples), opts)
}

// ScoreRow scores one result the way task measures it
func ScoreRow(task Task, q model.Query, res model.QueryResult, opts Options) model.BatchRow {
	if task == TaskHotpot {
		return HotpotRow(q, res, opts)
	}
	return FeverRow(q, res, opts)
}

// FeverRow scores a predicted label against the gold label
func FeverRow(q model.Query, res model.QueryResult, opts Options) model.BatchRow {
	row := model.BatchRow{
		ID:            q.ID,
		Pred:          string(res.Label),
		Gold:          q.Gold,
		Acc:           model.Float(metrics.FeverAccuracy(res.Label, model.Label(q.Gold))),
		Hallucination: model.Float(metrics.HallucinationProxy(res.Verification)),
	}
	addSelfConsistency(&row, res, opts)
	return row
}

// HotpotRow scores an answer against the gold answer. Without generation
// the answer is the yes/no reading of the verdict; with generation it is
// the majority sampled answer.
func HotpotRow(q model.Query, res model.QueryResult, opts Options) model.BatchRow {
	pred := decide.YesNo(res.Label)
	if opts.Generation {
		pred = metrics.MajorityAnswer(res.Generations)
	}
	row := model.BatchRow{
		ID:            q.ID,
		Pred:          pred,
		Gold:          q.Gold,
		Acc:           model.Float(metrics.HotpotExactMatch(pred, q.Gold)),
		Hallucination: model.Float(metrics.HallucinationProxy(res.Verification)),
	}
	addSelfConsistency(&row, res, opts)
	return row
}

func addSelfConsistency(row *model.BatchRow, res model.QueryResult, opts Options) {
	if opts.SelfConsistency && len(res.Generations) > 0 {
		row.SelfConsistency = model.Float(metrics.SelfConsistency(res.Generations))
	}
}
