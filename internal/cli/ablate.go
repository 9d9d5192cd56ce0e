package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/ragtrust/internal/ablation"
	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/poison"
	"github.com/ppiankov/ragtrust/internal/report"
	"github.com/ppiankov/ragtrust/internal/store"
	"github.com/spf13/cobra"
)

var (
	ablateTimeout  time.Duration
	rulesFile      string
	subset         int
	sampleSubset   bool
	writeRulesPath string
)

// ablateCmd represents the ablate command
var ablateCmd = &cobra.Command{
	Use:   "ablate [fever|hotpotqa]",
	Short: "Compare verifier vote thresholds on a fixed subset",
	Long: `Ablate re-runs the same examples once per rule. A rule only changes the
verifier's entailment and contradiction thresholds; retrieval, poisoning
and the decision parameters stay fixed, so differences between rows come
from the thresholds alone.

Rules come from a TOML file (--rules or ablation.rules_file) or the
built-in strict / balanced / conservative set:

  [rules.strict]
  entailment_threshold = 0.40
  contradiction_threshold = 0.40

Example:
  ragtrust ablate fever
  ragtrust ablate fever --rules rules.toml --subset 100 --sample
  ragtrust ablate --write-rules rules.toml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAblate,
}

func init() {
	rootCmd.AddCommand(ablateCmd)

	addEvalFlags(ablateCmd)
	ablateCmd.Flags().DurationVar(&ablateTimeout, "timeout", 2*time.Hour, "total timeout for the ablation")
	ablateCmd.Flags().StringVar(&rulesFile, "rules", "", "TOML rules file (default: ablation.rules_file or built-in rules)")
	ablateCmd.Flags().IntVar(&subset, "subset", 0, "examples per rule (default: ablation.subset)")
	ablateCmd.Flags().BoolVar(&sampleSubset, "sample", false, "draw the subset with the seeded sampler instead of taking the first examples")
	ablateCmd.Flags().StringVar(&writeRulesPath, "write-rules", "", "write the built-in rules to a TOML file and exit")
	ablateCmd.Flags().StringSliceVar(&formats, "format", []string{"json", "md"}, "report formats (json, md, yaml)")
	ablateCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for reports (default: output.dir)")
}

func runAblate(cmd *cobra.Command, args []string) error {
	if writeRulesPath != "" {
		if err := writeRulesFile(writeRulesPath); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote ablation rules: %s\n", writeRulesPath)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ablateTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg, err = applyEvalFlags(cmd, cfg); err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if cmd.Flags().Changed("subset") {
		cfg.Ablation.Subset = subset
	}
	if rulesFile != "" {
		cfg.Ablation.RulesFile = rulesFile
	}

	task := eval.TaskFever
	if len(args) > 0 {
		if task, err = eval.ParseTask(args[0]); err != nil {
			return err
		}
	}
	rules, err := loadRules(cfg)
	if err != nil {
		return err
	}
	reportFormats, err := parseFormats(formats)
	if err != nil {
		return err
	}

	data, err := loadTask(cfg, task)
	if err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}

	opts := ablation.Options{Subset: cfg.Ablation.Subset}
	if sampleSubset {
		opts.Sampler = poison.NewSampler(cfg.Seed)
	}

	banner("RAGTrust Threshold Ablation")
	fmt.Fprintf(os.Stderr, "  Task:         %s\n", task)
	fmt.Fprintf(os.Stderr, "  Rules:        %d\n", len(rules))
	fmt.Fprintf(os.Stderr, "  Subset:       %d of %d\n", len(ablation.Subset(data.queries, opts)), len(data.queries))
	fmt.Fprintf(os.Stderr, "  Poisoning:    enabled=%t rate=%.2f\n", cfg.Poisoning.Enabled, cfg.Poisoning.Rate)
	fmt.Fprintf(os.Stderr, "  Decision:     %s\n", decisionString(cfg))
	if cfg.Cache.Enabled && cfg.Cache.DiskDir != "" {
		fmt.Fprintf(os.Stderr, "  Cache:        disk layer %s shared across variants\n", cfg.Cache.DiskDir)
	}
	fmt.Fprintf(os.Stderr, "\n")

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
	}

	builder := pipeline.NewBuilder(cfg)
	evaluate := summarize(task)
	if st != nil {
		evaluate = storingEval(task, st, rules)
	}

	results, err := ablation.Run(ctx, cfg, rules, data.corpus, data.queries, opts, builder.Build, evaluate)
	if err != nil {
		return err
	}

	renderer := report.NewRenderer(cfg.Output.Dir)
	for _, format := range reportFormats {
		if _, err := renderer.Write("ablation-"+string(task), format, results); err != nil {
			fmt.Fprintf(os.Stderr, "✗ failed to write %s: %v\n", format, err)
		}
	}

	fmt.Println(report.AblationTable(results))
	return nil
}

// loadRules reads the configured rules file or falls back to the defaults
func loadRules(cfg model.Config) ([]model.AblationVariant, error) {
	if cfg.Ablation.RulesFile == "" {
		return ablation.DefaultRules(), nil
	}
	return ablation.LoadRules(cfg.Ablation.RulesFile)
}

func writeRulesFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("rules file already exists: %s", path)
	}
	return writeRules(path)
}

// storingEval evaluates like summarize and also persists every variant
// under its rule name
func storingEval(task eval.Task, st *store.Store, rules []model.AblationVariant) ablation.EvalFunc {
	return func(ctx context.Context, p *pipeline.Pipeline, cfg model.Config, queries []model.Query) (metrics.Summary, error) {
		res := eval.Run(ctx, p, task, queries, eval.OptionsFromConfig(cfg))
		if err := ctx.Err(); err != nil {
			return metrics.Summary{}, err
		}
		saveRun(ctx, st, cfg, ruleName(rules, cfg.Verification), res)
		return res.Summary, nil
	}
}

// ruleName finds the rule whose thresholds produced v
func ruleName(rules []model.AblationVariant, v model.VerificationConfig) string {
	for _, r := range rules {
		if r.EntailmentThreshold == v.EntailmentThreshold && r.ContradictionThreshold == v.ContradictionThreshold {
			return r.Name
		}
	}
	return fmt.Sprintf("ent=%.2f,con=%.2f", v.EntailmentThreshold, v.ContradictionThreshold)
}

func decisionString(cfg model.Config) string {
	params, err := cfg.Decision.Params()
	if err != nil {
		return err.Error()
	}
	return params.String()
}
