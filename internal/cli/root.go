// Package cli implements the dalmock command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ismailtsdln/dalmock/internal/logging"
)

var version = "0.1.0"

type globalOptions struct {
	logLevel  string
	logFormat string
}

func (g *globalOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(g.logLevel),
		Format: logging.ParseFormat(g.logFormat),
		Output: cmd.ErrOrStderr(),
	})
}

// NewRootCmd builds the dalmock command tree.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:     "dalmock",
		Short:   "A disposable mock server for astronomical DAL services",
		Version: version,
		Long: `dalmock serves canned SIA, cone search, SSA and SLA VOTable responses
on a free local port so DAL clients can be exercised without network access.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(
		newServeCmd(g),
		newRouteCmd(),
		newFixturesCmd(),
		newPortCmd(g),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
