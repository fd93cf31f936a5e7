package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/azmove/azmove/pkg/config"
	"github.com/azmove/azmove/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the stored simulation run history",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

// openStore opens the run-history database from the config.
func openStore(cmd *cobra.Command, cfg *config.Config) (*stores.SQLiteStore, func(), error) {
	if cfg.Store.Path == "" {
		return nil, nil, fmt.Errorf("no store path configured; set store.path in the config file")
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	if err := store.Init(ctx); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No stored runs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSUBSCRIPTION\tTARGET\tCLASSIFICATION\tVIOLATIONS\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.SubscriptionID, r.TargetGroup, r.Classification,
					r.ViolationCount, r.StartedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored run with its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			findings, err := store.ListFindings(ctx, run.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s\n", run.ID)
			fmt.Printf("Subscription %s: %s -> %s\n", run.SubscriptionID, orDash(run.SourceGroup), run.TargetGroup)
			fmt.Printf("Classification: %s  Violations: %d/%d pairs\n\n",
				run.Classification, run.ViolationCount, len(findings))

			if len(findings) == 0 {
				fmt.Println("No findings recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tPOLICY\tEFFECT\tSTATE\tWAIVER")
			for _, f := range findings {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					f.ResourceName, f.PolicyName, f.ResolvedEffect, f.ComplianceState, orDash(f.WaiverStatus))
			}
			return w.Flush()
		},
	}
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run and its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted run %s\n", args[0])
			return nil
		},
	}
}
