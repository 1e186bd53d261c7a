package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"bidskit/internal/bids"
	"bidskit/internal/bidsmap"
	"bidskit/internal/sourcedata"
)

func newBidsmapCommand(ctx *commandContext) *cobra.Command {
	bidsmapCmd := &cobra.Command{
		Use:   "bidsmap",
		Short: "Create and inspect dataset bidsmaps",
	}
	bidsmapCmd.AddCommand(newBidsmapInitCommand(ctx))
	bidsmapCmd.AddCommand(newBidsmapValidateCommand(ctx))
	return bidsmapCmd
}

func newBidsmapInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init <bidsfolder>",
		Short: "Write the starter bidsmap into the dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bidsFolder, err := expandArg(args[0])
			if err != nil {
				return err
			}
			path := cfg.BidsmapPath(bidsFolder)
			if err := bidsmap.WriteTemplate(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote starter bidsmap to %s\n", path)
			return nil
		},
	}
}

func newBidsmapValidateCommand(ctx *commandContext) *cobra.Command {
	var bidsmapPath string

	cmd := &cobra.Command{
		Use:   "validate <bidsfolder>",
		Short: "Parse the dataset bidsmap and list its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bidsFolder, err := expandArg(args[0])
			if err != nil {
				return err
			}
			bmap, err := ctx.loadBidsmap(bidsFolder, bidsmapPath)
			if err != nil {
				return err
			}

			base, err := bids.LoadSchema()
			if err != nil {
				return err
			}
			schema, err := bmap.Schema(base)
			if err != nil {
				return err
			}

			var rows [][]string
			incomplete := 0
			for _, kind := range []sourcedata.Format{sourcedata.FormatDICOM, sourcedata.FormatPAR} {
				format := bmap.Format(kind)
				if format == nil {
					continue
				}
				for _, run := range format.Runs {
					var missing []string
					if !run.Excluded() {
						missing = schema.Missing(run.Declared())
					}
					if len(missing) > 0 {
						incomplete++
					}
					rows = append(rows, []string{string(kind), run.Datatype, run.Suffix(), attributeSummary(run.Attributes), strings.Join(missing, ", ")})
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Bidsmap: %s\n", bmap.Path())
			fmt.Fprintln(out, renderTable([]string{"Format", "Datatype", "Suffix", "Attributes", "Missing"}, rows, nil))
			if incomplete > 0 {
				return fmt.Errorf("%d run(s) lack required entities; coin skips them", incomplete)
			}
			plugins := make([]string, 0, len(bmap.Options.Plugins))
			for name := range bmap.Options.Plugins {
				plugins = append(plugins, name)
			}
			sort.Strings(plugins)
			fmt.Fprintf(out, "Plugins: %s\n", strings.Join(plugins, ", "))
			fmt.Fprintln(out, "Bidsmap valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&bidsmapPath, "bidsmap", "b", "", "Bidsmap file (default: <bidsfolder>/code/bidskit/bidsmap.toml)")
	return cmd
}

func attributeSummary(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}
