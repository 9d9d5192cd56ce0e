package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ppiankov/ragtrust/internal/ablation"
	"github.com/ppiankov/ragtrust/internal/dataset"
	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/store"
	"github.com/spf13/cobra"
)

// Overrides shared by the evaluating commands
var (
	seed        uint64
	poisonRate  float64
	noPoison    bool
	topK        int
	maxExamples int
	scorerURL   string
	generate    bool
	noCache     bool
	workers     int
)

func addEvalFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&seed, "seed", 42, "seed for poisoning and subset sampling")
	cmd.Flags().Float64Var(&poisonRate, "poison-rate", 0.2, "fraction of evidence to poison (0-1)")
	cmd.Flags().BoolVar(&noPoison, "no-poison", false, "disable poisoning")
	cmd.Flags().IntVar(&topK, "k", 10, "passages retrieved per query")
	cmd.Flags().IntVar(&maxExamples, "max-examples", 500, "examples loaded per dataset")
	cmd.Flags().StringVar(&scorerURL, "scorer-url", "", "entailment scorer endpoint")
	cmd.Flags().BoolVar(&generate, "generate", false, "sample answers from the generation provider")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable score and embedding cache")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent queries")
}

// applyEvalFlags overlays explicitly set flags on cfg and revalidates
func applyEvalFlags(cmd *cobra.Command, cfg model.Config) (model.Config, error) {
	f := cmd.Flags()
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	if f.Changed("poison-rate") {
		cfg = cfg.WithPoisonRate(poisonRate)
		cfg.Poisoning.Enabled = true
	}
	if noPoison {
		cfg.Poisoning.Enabled = false
	}
	if f.Changed("k") {
		cfg.Retrieval.K = topK
	}
	if f.Changed("max-examples") {
		cfg.Data.Fever.MaxExamples = maxExamples
		cfg.Data.HotpotQA.MaxExamples = maxExamples
	}
	if scorerURL != "" {
		cfg.Verification.ScorerURL = scorerURL
	}
	if generate {
		cfg.Generation.Enabled = true
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if f.Changed("workers") {
		cfg.Evaluation.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// taskData is a loaded dataset together with its corpus
type taskData struct {
	task    eval.Task
	corpus  []model.Passage
	fever   []model.FeverExample
	hotpot  []model.HotpotExample
	queries []model.Query
}

// loadTask loads the examples of task and builds the matching corpus
func loadTask(cfg model.Config, task eval.Task) (taskData, error) {
	defer logger.Timed("load " + string(task))()

	switch task {
	case eval.TaskFever:
		fc := cfg.Data.Fever
		if fc.TrainJSONL == "" || fc.WikiPagesDir == "" {
			return taskData{}, &model.ConfigError{Field: "data.fever", Reason: "train_jsonl and wiki_pages_dir are required"}
		}
		examples, err := dataset.LoadFever(fc.TrainJSONL, fc.MaxExamples)
		if err != nil {
			return taskData{}, err
		}
		corpus, err := dataset.BuildFeverCorpus(fc.WikiPagesDir, dataset.GoldTitleSet(examples), cfg.Data.MaxCorpusSentences)
		if err != nil {
			return taskData{}, err
		}
		logger.Info("fever: %d claims, %d corpus sentences", len(examples), len(corpus))
		return taskData{task: task, corpus: corpus, fever: examples, queries: dataset.FeverQueries(examples)}, nil

	case eval.TaskHotpot:
		hc := cfg.Data.HotpotQA
		if hc.TrainJSON == "" {
			return taskData{}, &model.ConfigError{Field: "data.hotpotqa.train_json", Reason: "required"}
		}
		examples, err := dataset.LoadHotpot(hc.TrainJSON, hc.MaxExamples)
		if err != nil {
			return taskData{}, err
		}
		corpus := dataset.BuildHotpotCorpus(examples)
		logger.Info("hotpotqa: %d questions, %d corpus sentences", len(examples), len(corpus))
		return taskData{task: task, corpus: corpus, hotpot: examples, queries: dataset.HotpotQueries(examples)}, nil
	}
	return taskData{}, fmt.Errorf("unknown task %q", task)
}

// enabledTasks lists the tasks switched on in cfg, or only the named one
func enabledTasks(cfg model.Config, name string) ([]eval.Task, error) {
	if name != "" && name != "all" {
		t, err := eval.ParseTask(name)
		if err != nil {
			return nil, err
		}
		return []eval.Task{t}, nil
	}
	var tasks []eval.Task
	if cfg.Data.Fever.Enabled {
		tasks = append(tasks, eval.TaskFever)
	}
	if cfg.Data.HotpotQA.Enabled {
		tasks = append(tasks, eval.TaskHotpot)
	}
	if len(tasks) == 0 {
		return nil, &model.ConfigError{Field: "data", Reason: "no dataset enabled"}
	}
	return tasks, nil
}

// summarize adapts eval.Run to the ablation harness
func summarize(task eval.Task) ablation.EvalFunc {
	return func(ctx context.Context, p *pipeline.Pipeline, cfg model.Config, queries []model.Query) (metrics.Summary, error) {
		res := eval.Run(ctx, p, task, queries, eval.OptionsFromConfig(cfg))
		if err := ctx.Err(); err != nil {
			return metrics.Summary{}, err
		}
		return res.Summary, nil
	}
}

// openStore opens the configured run store; nil when none is configured
func openStore(cfg model.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	return store.Open(cfg.Store.Path)
}

// saveRun persists one result when a store is configured
func saveRun(ctx context.Context, st *store.Store, cfg model.Config, name string, res eval.Result) {
	if st == nil {
		return
	}
	run := &store.Run{Task: string(res.Task), Name: name, Config: cfg, Summary: res.Summary}
	if err := st.SaveRun(ctx, run, res.Rows); err != nil {
		logger.Warn("save run: %v", err)
		return
	}
	fmt.Fprintf(os.Stderr, "  Run ID:    %s\n", run.ID)
}
