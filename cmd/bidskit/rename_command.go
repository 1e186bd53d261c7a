package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bidskit/internal/bids"
	"bidskit/internal/bidsmap"
	"bidskit/internal/reconcile"
)

func newRenameCommand(ctx *commandContext) *cobra.Command {
	var (
		datatype    string
		suffix      string
		bidsmapPath string
		crop        bool
		dynamicRun  bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "rename <folder> <basename>",
		Short: "Reconcile existing dcm2niix output in a folder into BIDS names",
		Long: "Rename the images dcm2niix wrote for <basename> in <folder> the way coin does: " +
			"echo, coil, part and fieldmap postfixes are resolved and sidecars follow their image.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := expandArg(args[0])
			if err != nil {
				return err
			}
			if err := requireDir(dir); err != nil {
				return err
			}
			base := strings.TrimSpace(args[1])
			if datatype == "" || suffix == "" {
				return fmt.Errorf("--datatype and --suffix are required")
			}

			schema, err := bids.LoadSchema()
			if err != nil {
				return err
			}
			if bidsmapPath != "" {
				path, err := expandArg(bidsmapPath)
				if err != nil {
					return err
				}
				bmap, err := bidsmap.Load(path)
				if err != nil {
					return err
				}
				if schema, err = bmap.Schema(schema); err != nil {
					return err
				}
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			run := bids.Run{Datatype: datatype, Suffix: suffix, Entities: map[string]string{}}
			engine := reconcile.New(schema, logger)
			out := cmd.OutOrStdout()

			if dryRun {
				entries, err := os.ReadDir(dir)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					if !e.IsDir() {
						names = append(names, e.Name())
					}
				}
				siblings := reconcile.Siblings(base, names)
				if len(siblings) == 0 {
					fmt.Fprintf(out, "No images named %s* in %s\n", base, dir)
					return nil
				}
				rows := make([][]string, 0, len(siblings))
				for _, res := range engine.Resolver().Resolve(base, run, siblings) {
					rows = append(rows, []string{res.Source, res.Target, strings.Join(res.Notes, "; ")})
				}
				fmt.Fprintln(out, renderTable([]string{"Current", "Target", "Notes"}, rows, nil))
				return nil
			}

			result, err := engine.Reconcile(cmd.Context(), reconcile.Acquisition{
				Dir:        dir,
				Base:       base,
				Run:        run,
				Crop:       crop,
				DynamicRun: dynamicRun,
			})
			if err != nil {
				return err
			}
			if len(result.Renames) == 0 {
				fmt.Fprintln(out, "Nothing to rename")
				return nil
			}
			rows := make([][]string, 0, len(result.Renames))
			for _, r := range result.Renames {
				rows = append(rows, []string{r.From, r.To})
			}
			fmt.Fprintln(out, renderTable([]string{"From", "To"}, rows, nil))
			fmt.Fprintf(out, "Renamed %d file(s), %d warning(s)\n", len(result.Renames), result.Warnings)
			return nil
		},
	}

	cmd.Flags().StringVarP(&datatype, "datatype", "d", "", "BIDS datatype of the acquisition (anat, func, fmap, ...)")
	cmd.Flags().StringVarP(&suffix, "suffix", "s", "", "BIDS suffix of the acquisition (T1w, bold, magnitude1, ...)")
	cmd.Flags().StringVarP(&bidsmapPath, "bidsmap", "b", "", "Bidsmap whose custom entities apply")
	cmd.Flags().BoolVar(&crop, "crop", false, "Replace images with their _Crop_ variants first")
	cmd.Flags().BoolVar(&dynamicRun, "dynamic-run", false, "Move renamed images past run indices already in use")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Only print the computed names")
	return cmd
}
