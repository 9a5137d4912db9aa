package cli

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ismailtsdln/dalmock/fixtures"
)

type fixturesOptions struct {
	dir     string
	pattern string
	output  string
}

func (o *fixturesOptions) store() *fixtures.FSStore {
	if o.dir == "" {
		return fixtures.Embedded()
	}
	return fixtures.Dir(o.dir)
}

func newFixturesCmd() *cobra.Command {
	o := &fixturesOptions{}

	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Inspect the fixtures a server would serve",
	}
	cmd.PersistentFlags().StringVar(&o.dir, "fixtures", "", "fixture directory (default: built-in set)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List fixtures with their query status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixturesList(cmd, o)
		},
	}
	list.Flags().StringVar(&o.pattern, "pattern", "", "doublestar glob to filter names, e.g. '**/*-sia.xml'")
	list.Flags().StringVarP(&o.output, "output", "o", "text", "output format (text, yaml)")

	check := &cobra.Command{
		Use:   "check [NAME...]",
		Short: "Verify fixtures are well-formed XML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixturesCheck(cmd, o, args)
		},
	}

	cmd.AddCommand(list, check)
	return cmd
}

func runFixturesList(cmd *cobra.Command, o *fixturesOptions) error {
	sums, failures, err := fixtures.InspectAll(o.store(), o.pattern)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch o.output {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(sums); err != nil {
			return fmt.Errorf("encoding fixture list: %w", err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	case "text", "":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tSTATUS\tROWS")
		for _, s := range sums {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", s.Name, s.Size, s.Status, s.Rows)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d fixture(s) could not be parsed; run 'dalmock fixtures check'", len(failures))
	}
	return nil
}

func runFixturesCheck(cmd *cobra.Command, o *fixturesOptions, names []string) error {
	store := o.store()
	failures := make(map[string]error)
	var sums []fixtures.Summary

	if len(names) == 0 {
		var err error
		sums, failures, err = fixtures.InspectAll(store, "")
		if err != nil {
			return err
		}
	} else {
		for _, name := range names {
			sum, err := fixtures.Inspect(store, name)
			if err != nil {
				failures[name] = err
				continue
			}
			sums = append(sums, sum)
		}
	}

	colors := defaultColorScheme()
	out := cmd.OutOrStdout()
	for _, s := range sums {
		note := s.Status
		if s.IsError() && s.Message != "" {
			note += ": " + s.Message
		}
		fmt.Fprintf(out, "%s %s (%s)\n", colors.StatusOK.Sprint("ok  "), s.Name, note)
	}

	failed := make([]string, 0, len(failures))
	for name := range failures {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Fprintf(out, "%s %s: %v\n", colors.StatusError.Sprint("FAIL"), name, failures[name])
	}

	if len(failed) > 0 {
		return errors.New("fixture check failed")
	}
	return nil
}
