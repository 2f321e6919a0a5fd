package main

import (
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/cabintrainer/internal/scenario"
)

var errDegraded = errors.New("scenario has degraded entities")

type validation struct {
	path     string
	name     string
	err      error
	degraded map[string]error
	ids      []string
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check scenario files without replaying them",
		Long: `validate loads and builds every scenario file. Reference problems (unknown
objects, duplicate IDs, bad script actions) fail the build; entities whose
configuration is unusable are built degraded and listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := validateFiles(root, files)
			return printValidation(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "scenario", "s", nil, "scenario files (repeatable)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func validateFiles(root *rootOptions, files []string) []validation {
	results := make([]validation, len(files))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			results[i] = validateFile(root, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func validateFile(root *rootOptions, path string) validation {
	v := validation{path: path}
	sc, err := scenario.LoadFile(path)
	if err != nil {
		v.err = err
		return v
	}
	v.name = sc.Name
	// each file gets its own bus so concurrent builds stay isolated
	opts := root.app.Config.Sim.Scenario()
	opts.Log = root.app.Log
	s, err := scenario.Build(sc, opts)
	if err != nil {
		v.err = err
		return v
	}
	defer s.Close()
	v.degraded = s.Degraded()
	v.ids = s.DegradedIDs()
	return v
}

func printValidation(w io.Writer, results []validation) error {
	var errs []error
	for _, v := range results {
		switch {
		case v.err != nil:
			fmt.Fprintf(w, "%s: invalid\n", v.path)
			fmt.Fprintf(w, "  %v\n", v.err)
			errs = append(errs, fmt.Errorf("%s: %w", v.path, v.err))
		case len(v.ids) > 0:
			fmt.Fprintf(w, "%s (%s): %d degraded\n", v.path, v.name, len(v.ids))
			for _, id := range v.ids {
				fmt.Fprintf(w, "  %s: %v\n", id, v.degraded[id])
			}
			errs = append(errs, fmt.Errorf("%s: %w", v.path, errDegraded))
		default:
			fmt.Fprintf(w, "%s (%s): ok\n", v.path, v.name)
		}
	}
	return errors.Join(errs...)
}
