package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/azmove/azmove/pkg/hierarchy"
)

func newHierarchyCommand() *cobra.Command {
	var targetGroup string

	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Show the management group chain above a group",
		Long: `Hierarchy walks the parent links from the given management group up to
the tenant root and prints the scope chain a subscription placed there
would inherit policy assignments from.`,
		Example: `  azmove hierarchy -t corp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetGroup == "" {
				return fmt.Errorf("--target-group is required")
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
			chain, err := hierarchy.NewWalker(client, tel.Logger).Walk(cmd.Context(), targetGroup)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tNAME\tDISPLAY NAME\tSCOPE")
			for i, level := range chain {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, level.Name, orDash(level.DisplayName), level.Scope())
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&targetGroup, "target-group", "t", "", "management group to start from")

	return cmd
}
