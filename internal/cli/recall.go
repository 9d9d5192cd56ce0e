package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	recallTimeout time.Duration
	recallKs      []int
)

// recallCmd represents the recall command
var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Measure FEVER evidence recall@k of the retriever",
	Long: `Recall checks how often the retriever surfaces gold evidence: a claim
counts as a hit when any of its top-k passages comes from one of its gold
evidence pages. Poisoning and verification are not involved.

Example:
  ragtrust recall
  ragtrust recall --at 1,5,10,20`,
	Args: cobra.NoArgs,
	RunE: runRecall,
}

func init() {
	rootCmd.AddCommand(recallCmd)

	addEvalFlags(recallCmd)
	recallCmd.Flags().DurationVar(&recallTimeout, "timeout", 30*time.Minute, "total timeout")
	recallCmd.Flags().IntSliceVar(&recallKs, "at", nil, "cutoffs to report (default: evaluation.recall_k)")
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), recallTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg, err = applyEvalFlags(cmd, cfg); err != nil {
		return err
	}
	ks := recallKs
	if len(ks) == 0 {
		ks = []int{cfg.Evaluation.RecallK}
	}

	data, err := loadTask(cfg, eval.TaskFever)
	if err != nil {
		return err
	}
	p, err := pipeline.NewBuilder(cfg).Build(ctx, cfg, data.corpus)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	banner("RAGTrust Evidence Recall")
	fmt.Fprintf(os.Stderr, "  Claims:   %d\n", len(data.fever))
	fmt.Fprintf(os.Stderr, "  Corpus:   %d passages\n", p.CorpusSize())
	fmt.Fprintf(os.Stderr, "\n")

	for _, k := range ks {
		if k < 1 {
			return fmt.Errorf("recall cutoff must be >= 1, got %d", k)
		}
		recall, err := metrics.EvidenceRecallAtK(ctx, p.Retriever(), data.fever, k)
		if err != nil {
			return err
		}
		fmt.Printf("recall@%-4s %.4f\n", strconv.Itoa(k), recall)
	}
	return nil
}
