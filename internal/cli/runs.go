package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/report"
	"github.com/ppiankov/ragtrust/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	runsLimit  int
	showConfig bool
)

// runsCmd manages stored evaluation runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored evaluation runs",
	Long: `Runs lists, shows and deletes evaluations saved in the run store.
Runs are saved by 'run' and 'ablate' when store.path is configured.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			runs, err := st.ListRuns(ctx, runsLimit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "No stored runs")
				return nil
			}
			fmt.Println(report.RunsTable(runs))
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run as Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			rows, err := st.Rows(ctx, run.ID)
			if err != nil {
				return fmt.Errorf("load rows: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Run %s (%s) created %s\n\n", run.ID, displayName(run), run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			if showConfig {
				if err := printConfig(run.Config); err != nil {
					return err
				}
			}
			return report.Markdown(os.Stdout, eval.Result{Task: eval.Task(run.Task), Rows: rows, Summary: run.Summary})
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			if err := st.DeleteRun(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Deleted run %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list (0 for all)")
	runsShowCmd.Flags().BoolVar(&showConfig, "config", false, "also print the configuration the run used")
}

// withStore opens the configured store for the duration of fn
func withStore(fn func(context.Context, *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return &model.ConfigError{Field: "store.path", Reason: "no run store configured"}
	}
	defer func() { _ = st.Close() }()
	return fn(context.Background(), st)
}

func displayName(run store.Run) string {
	if run.Name == "" {
		return run.Task
	}
	return run.Task + "/" + run.Name
}

func printConfig(cfg model.Config) error {
	cfg.Providers.APIKey = ""
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	fmt.Println("```yaml")
	fmt.Print(string(data))
	fmt.Println("```")
	fmt.Println()
	return nil
}
