package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ismailtsdln/dalmock"
)

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "route PATH...",
		Short:   "Show which response each request path selects",
		Example: `  dalmock route /sia '/dal/neat-sia.xml' '/path?x=1'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range args {
				fmt.Fprintf(tw, "%s\t%s\n", p, dalmock.Route(p))
			}
			return tw.Flush()
		},
	}
}
