// Package ablation re-runs an evaluation under several verifier vote
// threshold settings, rebuilding the whole pipeline for each one.
package ablation

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/poison"
)

// BuildFunc constructs a brand-new pipeline for one variant
type BuildFunc func(ctx context.Context, cfg model.Config, corpus []model.Passage) (*pipeline.Pipeline, error)

// EvalFunc evaluates the example subset on one variant's pipeline
type EvalFunc func(ctx context.Context, p *pipeline.Pipeline, cfg model.Config, queries []model.Query) (metrics.Summary, error)

// Options selects the example subset
type Options struct {
	Subset  int             // examples per variant; <= 0 uses all
	Sampler *poison.Sampler // nil takes the first Subset examples
}

// Result is one variant's outcome
type Result struct {
	Variant model.AblationVariant `json:"variant" yaml:"variant"`
	Summary metrics.Summary       `json:"summary" yaml:"summary"`
}

// Results maps variant name to its outcome
type Results map[string]Result

// Names returns the variant names in sorted order
func (r Results) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Table returns a header row followed by one row per variant, in name order
func (r Results) Table() [][]string {
	header := []string{"rule", "entailment_threshold", "contradiction_threshold"}
	header = append(header, metrics.Names()...)
	header = append(header, "failed")

	rows := [][]string{header}
	for _, name := range r.Names() {
		res := r[name]
		row := []string{
			name,
			strconv.FormatFloat(res.Variant.EntailmentThreshold, 'f', 2, 64),
			strconv.FormatFloat(res.Variant.ContradictionThreshold, 'f', 2, 64),
		}
		for _, m := range metrics.Names() {
			if v, ok := res.Summary.Get(m); ok {
				row = append(row, strconv.FormatFloat(v, 'f', 4, 64))
			} else {
				row = append(row, "-")
			}
		}
		row = append(row, fmt.Sprintf("%d/%d", res.Summary.Failed, res.Summary.Total))
		rows = append(rows, row)
	}
	return rows
}

// Subset picks the examples every variant is evaluated on
func Subset(queries []model.Query, opts Options) []model.Query {
	if opts.Subset <= 0 || opts.Subset >= len(queries) {
		return queries
	}
	if opts.Sampler == nil {
		return queries[:opts.Subset]
	}
	out := make([]model.Query, 0, opts.Subset)
	for _, i := range opts.Sampler.Sample(len(queries), opts.Subset) {
		out = append(out, queries[i])
	}
	return out
}

// Run evaluates every variant in name order. Each variant gets a copy of
// base with only the vote thresholds replaced and its own freshly built
// pipeline; decision parameters stay as configured.
func Run(ctx context.Context, base model.Config, rules []model.AblationVariant, corpus []model.Passage, queries []model.Query, opts Options, build BuildFunc, evaluate EvalFunc) (Results, error) {
	if len(rules) == 0 {
		return nil, &model.ConfigError{Field: "ablation", Reason: "no rules to evaluate"}
	}
	ordered := slices.Clone(rules)
	sortByName(ordered)
	for i, v := range ordered {
		if err := validateVariant(v); err != nil {
			return nil, err
		}
		if i > 0 && ordered[i-1].Name == v.Name {
			return nil, &model.ConfigError{Field: "rules." + v.Name, Reason: "duplicate rule name"}
		}
	}

	subset := Subset(queries, opts)
	results := make(Results, len(ordered))

	for _, v := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Section("ablation rule: " + v.Name)

		cfg := base.WithVerificationThresholds(v.EntailmentThreshold, v.ContradictionThreshold)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("rule %s: %w", v.Name, err)
		}

		p, err := build(ctx, cfg, corpus)
		if err != nil {
			return nil, fmt.Errorf("rule %s: build pipeline: %w", v.Name, err)
		}

		summary, err := evaluate(ctx, p, cfg, subset)
		if err != nil {
			return nil, fmt.Errorf("rule %s: evaluate: %w", v.Name, err)
		}
		logger.Info("rule %s: %v (failed %d/%d)", v.Name, summary.Metrics, summary.Failed, summary.Total)

		results[v.Name] = Result{Variant: v, Summary: summary}
	}
	return results, nil
}
