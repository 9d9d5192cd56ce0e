package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/report"
	"github.com/ppiankov/ragtrust/internal/worker"
	"github.com/spf13/cobra"
)

var batchTimeout time.Duration

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Verify claims from a file in parallel",
	Long: `Batch verifies one claim per line against a corpus:
- Lines may carry a gold label after a tab ("claim<TAB>SUPPORTS")
- Blank lines and # comments are skipped, duplicates are dropped
- Claims are processed concurrently; failures are reported and counted
- Accuracy is computed for lines with a gold label: label accuracy for
  fever, exact match against the gold answer for hotpotqa

Example:
  ragtrust batch claims.txt --corpus ./wiki
  ragtrust batch claims.txt --task fever --workers 8 --format json,md`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addEvalFlags(batchCmd)
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&queryTask, "task", "fever", "dataset providing the corpus and scoring (fever, hotpotqa)")
	batchCmd.Flags().StringVar(&corpusDir, "corpus", "", "wiki-pages directory to use as corpus")
	batchCmd.Flags().StringSliceVar(&formats, "format", []string{"json", "md"}, "report formats (json, md, yaml)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for reports (default: output.dir)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
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
	task, err := eval.ParseTask(queryTask)
	if err != nil {
		return err
	}
	reportFormats, err := parseFormats(formats)
	if err != nil {
		return err
	}

	banner("RAGTrust Batch Verification")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", max(1, cfg.Evaluation.Workers))
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	corpus, err := queryCorpus(cfg, task)
	if err != nil {
		return err
	}
	p, err := pipeline.NewBuilder(cfg).Build(ctx, cfg, corpus)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	opts := eval.OptionsFromConfig(cfg)
	evaluator := worker.EvaluatorFunc(func(ctx context.Context, q model.Query) (model.BatchRow, error) {
		res, err := p.RunOne(ctx, q.Text, task.Mode())
		if err != nil {
			return model.BatchRow{}, err
		}
		row := eval.ScoreRow(task, q, res, opts)
		if q.Gold == "" {
			row.Acc = nil
		}
		return row, nil
	})

	fmt.Fprintf(os.Stderr, "⚙️  Reading claims from file...\n")
	processor := worker.NewBatchProcessor(evaluator, max(1, cfg.Evaluation.Workers))
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ Processed %d claims\n\n", len(results))

	for _, r := range results {
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Query.Text, r.Error)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %-16s %s\n", r.Row.Pred, r.Query.Text)
	}

	rows := worker.Rows(results)
	res := eval.Result{Task: task, Rows: rows, Summary: metrics.Summarize(rows)}

	renderer := report.NewRenderer(cfg.Output.Dir)
	name := "batch-" + strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	for _, format := range reportFormats {
		if _, err := renderer.Write(name, format, res); err != nil {
			fmt.Fprintf(os.Stderr, "✗ failed to write %s: %v\n", format, err)
		}
	}

	banner("Batch Complete")
	fmt.Fprintf(os.Stderr, "  Total:     %d claims\n", res.Summary.Total)
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", res.Summary.Succeeded)
	fmt.Fprintf(os.Stderr, "  Failures:  %d (skipped %d)\n", res.Summary.Failed, res.Summary.Skipped)
	fmt.Fprintf(os.Stderr, "  Metrics:   %s\n", report.MetricsLine(res.Summary.Metrics))
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "\n")
	return nil
}
