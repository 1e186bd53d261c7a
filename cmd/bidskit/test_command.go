package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bidskit/internal/bidsmap"
	"bidskit/internal/plugins"
	"bidskit/internal/preflight"
	"bidskit/internal/services/dcm2niix"
)

func newTestCommand(ctx *commandContext) *cobra.Command {
	var bidsmapPath string

	cmd := &cobra.Command{
		Use:   "test [bidsfolder]",
		Short: "Check the converter and the plugin options of a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var (
				bidsFolder string
				bmap       *bidsmap.Bidsmap
			)
			if len(args) == 1 {
				if bidsFolder, err = expandArg(args[0]); err != nil {
					return err
				}
				if bmap, err = ctx.loadBidsmap(bidsFolder, bidsmapPath); err != nil {
					return err
				}
			}

			var pluginPath string
			if bmap != nil {
				opts, _ := bmap.Plugin(cfg.Coin.Plugin)
				pluginPath = opts.Path
			}
			client, err := dcm2niix.New(pluginPath, cfg.Converter.Binary, 0, dcm2niix.WithLogger(logger))
			if err != nil {
				return err
			}

			results := preflight.RunAll(cmd.Context(), cfg, preflight.Target{
				BidsFolder: bidsFolder,
				PluginPath: pluginPath,
			}, client)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Name, passLabel(r.Passed, r.Optional), r.Detail})
			}

			failures := len(preflight.Failed(results))
			if bmap != nil {
				names := make([]string, 0, len(bmap.Options.Plugins))
				for name := range bmap.Options.Plugins {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					opts := bmap.Options.Plugins[name]
					pluginClient, err := dcm2niix.New(opts.Path, cfg.Converter.Binary, 0, dcm2niix.WithLogger(logger))
					if err != nil {
						rows = append(rows, []string{"Plugin " + name, passLabel(false, false), err.Error()})
						failures++
						continue
					}
					version, err := plugins.Test(cmd.Context(), name, opts, pluginClient)
					if err != nil {
						rows = append(rows, []string{"Plugin " + name, passLabel(false, false), err.Error()})
						failures++
						continue
					}
					rows = append(rows, []string{"Plugin " + name, passLabel(true, false), version})
				}
			}

			fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))
			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			fmt.Fprintln(out, "All required checks passed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&bidsmapPath, "bidsmap", "b", "", "Bidsmap file (default: <bidsfolder>/code/bidskit/bidsmap.toml)")
	return cmd
}

func passLabel(passed, optional bool) string {
	switch {
	case passed:
		return color.GreenString("pass")
	case optional:
		return color.YellowString("missing (optional)")
	default:
		return color.RedString("FAIL")
	}
}
