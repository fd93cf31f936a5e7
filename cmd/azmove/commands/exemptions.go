package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/azmove/azmove/pkg/exemptions"
	"github.com/azmove/azmove/pkg/hierarchy"
)

func newExemptionsCommand() *cobra.Command {
	var (
		subscription string
		targetGroup  string
	)

	cmd := &cobra.Command{
		Use:   "exemptions",
		Short: "List policy exemptions visible across the inherited scopes",
		Long: `Exemptions lists every policy exemption declared at the subscription
scope and at each level of the target group's hierarchy, with its
covered assignment and expiry.`,
		Example: `  azmove exemptions -s <subscription> -t corp`,
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

			all := exemptions.Collect(ctx, client, scopes, tel.Logger)
			if len(all) == 0 {
				fmt.Println("No exemptions found.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tSCOPE\tASSIGNMENT\tEXPIRES\tSTATUS")
			for _, ex := range all {
				expiry := "-"
				status := "active"
				if ex.ExpiresOn != nil {
					expiry = ex.ExpiresOn.Format(time.RFC3339)
				}
				if exemptions.IsExpired(ex, now) {
					status = "expired"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ex.Name, orDash(ex.Category), ex.Scope, ex.PolicyAssignmentID, expiry, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&subscription, "subscription", "s", "", "subscription ID")
	cmd.Flags().StringVarP(&targetGroup, "target-group", "t", "", "candidate destination management group")

	return cmd
}
