package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/azmove/azmove/pkg/arm"
	"github.com/azmove/azmove/pkg/config"
	"github.com/azmove/azmove/pkg/export"
	"github.com/azmove/azmove/pkg/simulator"
	"github.com/azmove/azmove/pkg/stores"
	"github.com/azmove/azmove/pkg/telemetry"
)

func newSimulateCommand() *cobra.Command {
	var (
		subscription  string
		sourceGroup   string
		targetGroup   string
		mode          string
		format        string
		outFile       string
		resourceTypes []string
		resourceID    string
		portalMode    bool
		parallel      bool
		workers       int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a subscription move and report predicted violations",
		Long: `Simulate evaluates every resource in the subscription against the policy
assignments that would apply under the target management group, without
moving anything.

The run:
  - Walks the target group's parent chain up to the tenant root
  - Collects assignments at every inherited scope, initiatives expanded
  - Resolves each policy's effective effect and parameters
  - Evaluates each resource's properties against each policy rule
  - Matches violations against existing policy exemptions`,
		Example: `  # Predict violations for a move to the corp management group
  azmove simulate -s 00000000-0000-0000-0000-000000000000 -t corp

  # Full report as a spreadsheet
  azmove simulate -s <subscription> -t corp --mode all --format xlsx -o report.xlsx

  # Evaluate a single resource with parallel workers disabled
  azmove simulate -s <subscription> -t corp --resource-id <id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyFlag := func(name string, set func()) {
				if cmd.Flags().Changed(name) {
					set()
				}
			}
			applyFlag("subscription", func() { cfg.Subscription = subscription })
			applyFlag("source-group", func() { cfg.SourceGroup = sourceGroup })
			applyFlag("target-group", func() { cfg.TargetGroup = targetGroup })
			applyFlag("mode", func() { cfg.Output.Mode = mode })
			applyFlag("format", func() { cfg.Output.Format = format })
			applyFlag("out", func() { cfg.Output.Path = outFile })
			applyFlag("resource-type", func() { cfg.ResourceTypes = resourceTypes })
			applyFlag("portal", func() { cfg.PortalMode = portalMode })
			applyFlag("parallel", func() { cfg.Parallel.Enabled = parallel })
			applyFlag("workers", func() { cfg.Parallel.Workers = workers })

			return runSimulate(cmd, cfg, resourceID)
		},
	}

	cmd.Flags().StringVarP(&subscription, "subscription", "s", "", "subscription ID to simulate")
	cmd.Flags().StringVar(&sourceGroup, "source-group", "", "current management group (recorded in the report)")
	cmd.Flags().StringVarP(&targetGroup, "target-group", "t", "", "candidate destination management group")
	cmd.Flags().StringVar(&mode, "mode", "", "result filter: violations-only, compliant-only, all")
	cmd.Flags().StringVar(&format, "format", "", "output format: table, csv, xlsx, json")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file path (default stdout)")
	cmd.Flags().StringSliceVar(&resourceTypes, "resource-type", nil, "limit evaluation to these resource types")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "evaluate a single resource instead of the inventory")
	cmd.Flags().BoolVar(&portalMode, "portal", false, "portal narrowing: network interfaces with a public IP only")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "evaluate resources with bounded parallel workers")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count for --parallel (default: CPU count)")

	return cmd
}

func runSimulate(cmd *cobra.Command, cfg *config.Config, resourceID string) error {
	version := cmd.Root().Version
	tel, err := buildTelemetry(cfg, version)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(cmd.Context()) }()

	if cfg.Telemetry.MetricsEnabled {
		if err := tel.Metrics.StartMetricsServer(); err != nil {
			return err
		}
	}

	client := buildClient(cfg, tel, tel.Logger)
	sim, err := simulator.New(simulator.Deps{
		Groups:     client,
		Policies:   client,
		Exemptions: client,
		Resources:  client,
		Observer:   tel.Metrics,
		Caches:     tel.Metrics,
		Tracer:     tel.Tracer,
	}, simulator.Options{
		SubscriptionID: cfg.Subscription,
		SourceGroup:    cfg.SourceGroup,
		TargetGroup:    cfg.TargetGroup,
		OutputMode:     simulator.OutputMode(cfg.Output.Mode),
		ResourceTypes:  cfg.ResourceTypes,
		ResourceID:     resourceID,
		Parallel:       cfg.Parallel.Enabled,
		Workers:        cfg.Parallel.Workers,
		PortalMode:     cfg.PortalMode,
	}, tel.Logger)
	if err != nil {
		return err
	}

	ctx, span := tel.Tracer.StartRunSpan(cmd.Context(), "", cfg.Subscription, cfg.TargetGroup)
	defer span.End()
	if id := telemetry.TraceID(ctx); id != "" {
		tel.Logger.Debug().Str("trace_id", id).Msg("Tracing simulation run")
	}

	report, err := sim.Run(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		if arm.IsThrottled(err) {
			tel.Logger.Warn().Msg("Run aborted by ARM throttling; retry later or reduce --workers")
		}
		return err
	}
	telemetry.RecordSuccess(span)

	tel.Metrics.RecordRunCompleted(
		string(report.Classification),
		report.CompletedAt.Sub(report.StartedAt),
		report.ViolationCount,
	)

	if cfg.Store.Path != "" {
		if err := saveRun(cmd, cfg, report); err != nil {
			return err
		}
	}

	_, exportSpan := tel.Tracer.StartPhaseSpan(ctx, "export")
	err = renderReport(cfg, report)
	if err != nil {
		telemetry.RecordError(exportSpan, err)
	} else {
		telemetry.RecordSuccess(exportSpan)
	}
	exportSpan.End()
	return err
}

func saveRun(cmd *cobra.Command, cfg *config.Config, report *simulator.Report) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return store.SaveReport(ctx, report)
}

func renderReport(cfg *config.Config, report *simulator.Report) error {
	switch cfg.Output.Format {
	case "csv":
		w, closeFn, err := outputWriter(cfg.Output.Path)
		if err != nil {
			return err
		}
		defer closeFn()
		return export.WriteCSV(w, report)
	case "xlsx":
		path := cfg.Output.Path
		if path == "" {
			path = fmt.Sprintf("azmove-%s.xlsx", report.RunID)
		}
		return export.WriteXLSX(path, report)
	case "json":
		w, closeFn, err := outputWriter(cfg.Output.Path)
		if err != nil {
			return err
		}
		defer closeFn()
		return export.WriteJSON(w, report)
	default:
		return renderTable(report)
	}
}

func outputWriter(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func renderTable(report *simulator.Report) error {
	fmt.Printf("Run %s\n", report.RunID)
	fmt.Printf("Subscription %s: %s -> %s\n", report.SubscriptionID, orDash(report.SourceGroup), report.TargetGroup)
	fmt.Printf("Hierarchy: %s\n", strings.Join(report.Hierarchy, " -> "))
	fmt.Printf("Assignments: %d  Policies: %d  Resources: %d  Violations: %d\n",
		report.AssignmentCount, report.PolicyCount, report.ResourceCount, report.ViolationCount)
	fmt.Printf("Classification: %s\n", report.Classification)
	fmt.Printf("Duration: %s\n\n", report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if len(report.Results) == 0 {
		fmt.Println("No results to display.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tTYPE\tPOLICY\tEFFECT\tSTATE\tWAIVER")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ResourceName,
			r.ResourceType,
			r.PolicyName,
			r.ResolvedEffect,
			r.ComplianceState,
			orDash(r.WaiverStatus),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(report.Summaries) > 0 {
		fmt.Println()
		s := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(s, "POLICY\tEFFECT\tVIOLATING\tCOMPLIANT")
		for _, sum := range report.Summaries {
			fmt.Fprintf(s, "%s\t%s\t%d\t%d\n", sum.PolicyName, sum.ResolvedEffect, sum.Violating, sum.Compliant)
		}
		return s.Flush()
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
