package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/azmove/azmove/pkg/assignments"
	"github.com/azmove/azmove/pkg/hierarchy"
)

func newAssignmentsCommand() *cobra.Command {
	var (
		subscription string
		targetGroup  string
		expand       bool
	)

	cmd := &cobra.Command{
		Use:   "assignments",
		Short: "List the policy assignments a moved subscription would inherit",
		Long: `Assignments collects the policy and initiative assignments scoped to the
subscription and to every level of the target group's hierarchy, the
set that would govern the subscription after the move. With --expand,
initiatives are unrolled into their member policies with each member's
resolved effect.`,
		Example: `  # Raw assignments the move would put in force
  azmove assignments -s <subscription> -t corp

  # Expanded to individual policies with resolved effects
  azmove assignments -s <subscription> -t corp --expand`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subscription == "" || targetGroup == "" {
				return fmt.Errorf("--subscription and --target-group are required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := buildTelemetry(cfg, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(cmd.Context()) }()

			client := buildClient(cfg, tel, tel.Logger)
			ctx := cmd.Context()

			chain, err := hierarchy.NewWalker(client, tel.Logger).Walk(ctx, targetGroup)
			if err != nil {
				return err
			}
			scopes := []string{"/subscriptions/" + subscription}
			for _, level := range chain {
				scopes = append(scopes, level.Scope())
			}

			resolver := assignments.NewResolver(client, tel.Metrics, tel.Logger)
			collected, err := resolver.Collect(ctx, scopes)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if !expand {
				fmt.Fprintln(w, "NAME\tSCOPE\tMODE\tDEFINITION")
				for _, a := range collected {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Scope, a.Mode(), a.PolicyDefinitionID)
				}
				return w.Flush()
			}

			effective := resolver.ExpandAll(ctx, collected)
			fmt.Fprintln(w, "ASSIGNMENT\tINITIATIVE\tPOLICY\tRAW EFFECT\tRESOLVED EFFECT")
			for _, p := range effective {
				initiative := "-"
				if p.Initiative != nil {
					initiative = p.Initiative.Name
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					p.Assignment.Name, initiative, p.DisplayName(), p.RawEffect, p.ResolvedEffect)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&subscription, "subscription", "s", "", "subscription ID")
	cmd.Flags().StringVarP(&targetGroup, "target-group", "t", "", "candidate destination management group")
	cmd.Flags().BoolVar(&expand, "expand", false, "unroll initiatives into member policies")

	return cmd
}
