package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/report"
	"github.com/spf13/cobra"
)

var (
	runTimeout time.Duration
	formats    []string
	outputDir  string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [fever|hotpotqa|all]",
	Short: "Evaluate FEVER and/or HotpotQA under poisoning",
	Long: `Run loads the configured datasets, builds a corpus for each, and
evaluates every example through retrieval, poisoning, verification and
decision:
- FEVER claims are verified in single mode and scored on label accuracy
- HotpotQA questions are verified in multi mode and scored on exact match
- Every row also carries the hallucination proxy and, when answers are
  generated, self-consistency

Failed examples are counted and do not stop the run.

Example:
  ragtrust run fever
  ragtrust run all --poison-rate 0.4 --seed 7
  ragtrust run hotpotqa --generate --format json,md,yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	addEvalFlags(runCmd)
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Hour, "total timeout for the run")
	runCmd.Flags().StringSliceVar(&formats, "format", []string{"json", "md"}, "report formats (json, md, yaml)")
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for reports (default: output.dir)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
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

	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	tasks, err := enabledTasks(cfg, name)
	if err != nil {
		return err
	}
	reportFormats, err := parseFormats(formats)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
	}

	banner("RAGTrust Evaluation")
	fmt.Fprintf(os.Stderr, "  Tasks:        %v\n", tasks)
	fmt.Fprintf(os.Stderr, "  Poisoning:    enabled=%t rate=%.2f target=%s\n", cfg.Poisoning.Enabled, cfg.Poisoning.Rate, cfg.Poisoning.Target)
	fmt.Fprintf(os.Stderr, "  Retrieval k:  %d\n", cfg.Retrieval.K)
	fmt.Fprintf(os.Stderr, "  Seed:         %d\n", cfg.Seed)
	fmt.Fprintf(os.Stderr, "  Generation:   %t\n", cfg.Generation.Enabled)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "\n")

	builder := pipeline.NewBuilder(cfg)
	renderer := report.NewRenderer(cfg.Output.Dir)
	var results []eval.Result

	for _, task := range tasks {
		data, err := loadTask(cfg, task)
		if err != nil {
			return fmt.Errorf("%s: %w", task, err)
		}

		logger.Section(string(task))
		p, err := builder.Build(ctx, cfg, data.corpus)
		if err != nil {
			return fmt.Errorf("%s: build pipeline: %w", task, err)
		}
		if p.CorpusInjected() > 0 {
			fmt.Fprintf(os.Stderr, "⚙️  %s: poisoned %d of %d corpus passages\n", task, p.CorpusInjected(), p.CorpusSize())
		}

		fmt.Fprintf(os.Stderr, "⚙️  %s: evaluating %d examples with %d workers...\n", task, len(data.queries), max(1, cfg.Evaluation.Workers))
		opts := eval.OptionsFromConfig(cfg)
		var res eval.Result
		if task == eval.TaskHotpot {
			res = eval.RunHotpot(ctx, p, data.hotpot, opts)
		} else {
			res = eval.RunFever(ctx, p, data.fever, opts)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", task, err)
		}
		results = append(results, res)

		fmt.Fprintf(os.Stderr, "✓ %s: %s\n", task, report.MetricsLine(res.Summary.Metrics))
		for _, format := range reportFormats {
			path, err := renderer.Write(string(task), format, res)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: failed to write %s: %v\n", task, format, err)
				continue
			}
			logger.Info("wrote %s", path)
		}
		saveRun(ctx, st, cfg, "", res)
	}

	banner("Evaluation Complete")
	for _, res := range results {
		fmt.Fprintf(os.Stderr, "  %-10s total=%d succeeded=%d failed=%d skipped=%d\n", res.Task, res.Summary.Total, res.Summary.Succeeded, res.Summary.Failed, res.Summary.Skipped)
	}
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "\n")

	fmt.Println(report.SummaryTable(results...))
	return nil
}

func parseFormats(names []string) ([]report.Format, error) {
	var out []report.Format
	for _, n := range names {
		f, err := report.ParseFormat(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
