package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/ragtrust/internal/dataset"
	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/ppiankov/ragtrust/internal/report"
	"github.com/ppiankov/ragtrust/internal/verify"
	"github.com/spf13/cobra"
)

var (
	queryTimeout time.Duration
	queryTask    string
	corpusDir    string
	queryMode    string
	outJSON      string
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <claim>",
	Short: "Verify a single claim and print a case study",
	Long: `Query runs one claim through the pipeline and shows what happened:
- the retrieved passages and which of them were poisoned
- the entailment vote of every verified passage
- the resolved label and any generated answers

The corpus comes from a wiki-pages directory (--corpus, e.g. one built by
'ragtrust corpus fetch') or from a configured dataset (--task).

Example:
  ragtrust query "Paris is the capital of France." --corpus ./wiki
  ragtrust query "Were both bands formed in London?" --task hotpotqa --mode multi
  ragtrust query "The Eiffel Tower is in Rome." --task fever --json case.json`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	addEvalFlags(queryCmd)
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 5*time.Minute, "overall query timeout")
	queryCmd.Flags().StringVar(&queryTask, "task", "fever", "dataset providing the corpus (fever, hotpotqa)")
	queryCmd.Flags().StringVar(&corpusDir, "corpus", "", "wiki-pages directory to use as corpus")
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "verification mode (single, multi; default follows the task)")
	queryCmd.Flags().StringVar(&outJSON, "json", "", "write the full result as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	claim := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg, err = applyEvalFlags(cmd, cfg); err != nil {
		return err
	}

	task, err := eval.ParseTask(queryTask)
	if err != nil {
		return err
	}
	mode := task.Mode()
	if queryMode != "" {
		if mode, err = verify.ParseMode(queryMode); err != nil {
			return err
		}
	}

	corpus, err := queryCorpus(cfg, task)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Claim: %s\n", claim)
		fmt.Fprintf(os.Stderr, "Corpus: %d passages\n", len(corpus))
		fmt.Fprintf(os.Stderr, "Mode: %s\n", mode)
		fmt.Fprintln(os.Stderr)
	}

	p, err := pipeline.NewBuilder(cfg).Build(ctx, cfg, corpus)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	res, err := p.RunOne(ctx, claim, mode)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if outJSON != "" {
		f, err := os.Create(outJSON)
		if err != nil {
			return fmt.Errorf("create %s: %w", outJSON, err)
		}
		if err := report.WriteJSON(f, res); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", outJSON, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", outJSON, err)
		}
		fmt.Fprintf(os.Stderr, "✓ JSON result: %s\n", outJSON)
	}

	return report.CaseStudy(os.Stdout, res)
}

// queryCorpus loads the --corpus directory when given, else the task's corpus
func queryCorpus(cfg model.Config, task eval.Task) ([]model.Passage, error) {
	if corpusDir != "" {
		return dataset.BuildFeverCorpus(corpusDir, nil, cfg.Data.MaxCorpusSentences)
	}
	data, err := loadTask(cfg, task)
	if err != nil {
		return nil, err
	}
	return data.corpus, nil
}
