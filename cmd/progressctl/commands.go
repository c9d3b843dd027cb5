package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-progress/internal/app"
	"github.com/p-n-ai/pai-progress/internal/gamification"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/report"
)

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "progressctl",
		Short:        "Administer learner progress records",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return err
			}
			slog.SetDefault(app.NewLogger(c.Log))
			if err := c.Validate(); err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	// Subcommands read cfg lazily; it is set by PersistentPreRunE.
	load := func() *config.Config { return cfg }

	root.AddCommand(
		newMigrateCmd(load),
		newProgressCmd(load),
		newReconcileCmd(load),
		newExportCmd(load),
		newBadgesCmd(load),
	)
	return root
}

func newMigrateCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			if cfg.Progress.StoreMode != "postgres" {
				return fmt.Errorf("migrate requires LEARN_PROGRESS_STORE=postgres")
			}
			db, err := database.New(cmd.Context(), cfg.Database.URL, 2, 1)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newProgressCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <user-id>",
		Short: "Print a user's progress record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), load())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Tracker.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
}

func newReconcileCmd(load func() *config.Config) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reconcile [user-id]",
		Short: "Recompute derived counters from activity records",
		Long: `Recompute courses completed, articles read and comments posted from
the authoritative activity records. XP, level, badges and streaks are not
changed.

Examples:
  progressctl reconcile u-123
  progressctl reconcile --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all does not take a user id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("expected a user id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), load())
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				summary, err := a.Engine.ReconcileAll(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(cmd, summary); err != nil {
					return err
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d users failed", summary.Failed, summary.Processed)
				}
				return nil
			}

			counts, err := a.Engine.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, counts)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reconcile every user")
	return cmd
}

func newExportCmd(load func() *config.Config) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all progress records to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), load())
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			if err := report.WriteProgressWorkbook(f, rows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(rows), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "progress.xlsx", "output file")
	return cmd
}

func newBadgesCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "badges",
		Short: "List the active badge table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := gamification.LoadBadgeTable(load().Progress.BadgesPath)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMETRIC\tTHRESHOLD")
			for _, b := range table.Badges {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", b.ID, b.Name, b.Metric, b.Threshold)
			}
			return tw.Flush()
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
