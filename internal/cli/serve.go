package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ismailtsdln/dalmock"
	"github.com/ismailtsdln/dalmock/fixtures"
)

type serveOptions struct {
	port        int
	base        int
	limit       int
	step        int
	timeout     time.Duration
	fixturesDir string
	monitor     bool
	noIdleExit  bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a mock DAL server until interrupted",
		Long: `Run a mock DAL server on a free port and log each request.

Without --port the first port in [--base, --limit) that is not already
answering HTTP is used. The server exits on SIGINT/SIGTERM, or on its own
after --timeout without connections unless --no-idle-exit is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.port, "port", "p", 0, "fixed port (0 scans for a free one)")
	f.IntVar(&o.base, "base", dalmock.DefaultBasePort, "first port to scan")
	f.IntVar(&o.limit, "limit", dalmock.DefaultPortLimit, "scan upper bound (exclusive)")
	f.IntVar(&o.step, "step", dalmock.DefaultPortStep, "scan step")
	f.DurationVar(&o.timeout, "timeout", dalmock.DefaultTimeout, "connection and idle timeout")
	f.StringVar(&o.fixturesDir, "fixtures", "", "serve fixtures from this directory instead of the built-in set")
	f.BoolVar(&o.monitor, "monitor", false, "show live traffic in a terminal UI")
	f.BoolVar(&o.noIdleExit, "no-idle-exit", false, "keep serving when idle")
	return cmd
}

func (o *serveOptions) serverOptions(log *slog.Logger) []dalmock.Option {
	opts := []dalmock.Option{
		dalmock.WithPortRange(o.base, o.limit, o.step),
		dalmock.WithTimeout(o.timeout),
		dalmock.WithIdleExit(!o.noIdleExit),
		dalmock.WithLogger(log),
		dalmock.WithAllocator(dalmock.NewAllocator(dalmock.NewRegistry(), dalmock.WithAllocatorLogger(log))),
	}
	if o.port != 0 {
		opts = append(opts, dalmock.WithPort(o.port))
	}
	if o.fixturesDir != "" {
		opts = append(opts, dalmock.WithStore(fixtures.Dir(o.fixturesDir)))
	}
	return opts
}

func runServe(cmd *cobra.Command, g *globalOptions, o *serveOptions) error {
	if o.fixturesDir != "" {
		if info, err := os.Stat(o.fixturesDir); err != nil || !info.IsDir() {
			return fmt.Errorf("fixtures directory %q is not readable", o.fixturesDir)
		}
	}

	if o.monitor {
		// The TUI owns the terminal; keep logs out of it.
		quiet := &globalOptions{logLevel: "error", logFormat: g.logFormat}
		return runMonitor(o.serverOptions(quiet.logger(cmd)))
	}

	out := cmd.OutOrStdout()
	colors := defaultColorScheme()
	var outMu sync.Mutex

	opts := append(o.serverOptions(g.logger(cmd)), dalmock.WithOnRequest(func(req *dalmock.CapturedRequest) {
		outMu.Lock()
		defer outMu.Unlock()
		colors.printRequest(out, req)
	}))

	s, err := dalmock.NewServer(opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	outMu.Lock()
	fmt.Fprintf(out, "dalmock serving on %s\n", colors.Highlight.Sprint(s.URL()))
	outMu.Unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case <-s.Done():
	}
	return nil
}
