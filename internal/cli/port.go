package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ismailtsdln/dalmock"
)

func newPortCmd(g *globalOptions) *cobra.Command {
	var base, limit, step int

	cmd := &cobra.Command{
		Use:   "port",
		Short: "Print the first port in range not already answering HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := dalmock.NewAllocator(dalmock.NewRegistry(), dalmock.WithAllocatorLogger(g.logger(cmd)))
			port, err := a.Allocate(cmd.Context(), base, limit, step)
			if err != nil {
				return err
			}
			a.Release(port)
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
	cmd.Flags().IntVar(&base, "base", dalmock.DefaultBasePort, "first port to scan")
	cmd.Flags().IntVar(&limit, "limit", dalmock.DefaultPortLimit, "scan upper bound (exclusive)")
	cmd.Flags().IntVar(&step, "step", dalmock.DefaultPortStep, "scan step")
	return cmd
}
