package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/config"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/orchestrator"
)

// #region root

// newRootCommand creates the top-level evaluator command.
func newRootCommand() *cobra.Command {
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:          "evaluator",
		Short:        "Evaluate every model configuration against the evaluation server",
		SilenceUsage: true,
	}
	cfg.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Load stored results and evaluate every configuration not yet evaluated",
		RunE: withApp(&cfg, func(ctx context.Context, a *app) (orchestrator.RunResult, error) {
			return a.orch.Start(ctx)
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Re-evaluate stored records that are still PENDING",
		RunE: withApp(&cfg, func(ctx context.Context, a *app) (orchestrator.RunResult, error) {
			if err := a.orch.LoadRecords(ctx); err != nil {
				return orchestrator.RunResult{}, err
			}
			return a.orch.ReevaluatePending(ctx)
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "dedupe",
		Short: "Delete duplicate stored records, keeping the most recent one per configuration",
		RunE: withApp(&cfg, func(ctx context.Context, a *app) (orchestrator.RunResult, error) {
			return a.orch.RemoveDuplicates(ctx)
		}),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "options",
		Short: "Print the model configurations a run would evaluate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.source.Load(cmd.Context()); err != nil {
				return err
			}
			for _, m := range a.source.Models() {
				fmt.Fprintln(cmd.OutOrStdout(), m.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d configurations\n", a.source.ModelCount())
			return nil
		},
	})

	return rootCmd
}

// #endregion root

// #region run-helpers

// withApp wires the application, runs fn and prints the result. Aborted runs
// return their error so the process exits non-zero.
func withApp(cfg *config.Config, fn func(context.Context, *app) (orchestrator.RunResult, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx, *cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := fn(ctx, a)
		if res.RunID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s run %s: %s (evaluated=%d skipped=%d transient=%d) %s\n",
				res.Mode, res.RunID, res.Outcome, res.Evaluated, res.Skipped, res.Transient,
				a.orch.Progress().Snapshot())
		}
		return err
	}
}

// #endregion run-helpers
