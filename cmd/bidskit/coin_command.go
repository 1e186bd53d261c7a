package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"bidskit/internal/coiner"
	"bidskit/internal/ledger"
	"bidskit/internal/preflight"
	"bidskit/internal/services/dcm2niix"
)

func newCoinCommand(ctx *commandContext) *cobra.Command {
	var (
		plugin      string
		bidsmapPath string
		subjects    []string
		skipChecks  bool
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "coin <rawfolder> <bidsfolder>",
		Short: "Convert the raw sessions into the BIDS folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rawFolder, err := expandArg(args[0])
			if err != nil {
				return err
			}
			bidsFolder, err := expandArg(args[1])
			if err != nil {
				return err
			}
			if err := requireDir(rawFolder); err != nil {
				return err
			}
			if strings.TrimSpace(plugin) != "" {
				cfg.Coin.Plugin = strings.ToLower(strings.TrimSpace(plugin))
			}

			bmap, err := ctx.loadBidsmap(bidsFolder, bidsmapPath)
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			if !skipChecks {
				opts, _ := bmap.Plugin(cfg.Coin.Plugin)
				client, err := dcm2niix.New(opts.Path, cfg.Converter.Binary, 0, dcm2niix.WithLogger(logger))
				if err != nil {
					return err
				}
				results := preflight.RunAll(cmd.Context(), cfg, preflight.Target{
					RawFolder:  rawFolder,
					BidsFolder: bidsFolder,
					PluginPath: opts.Path,
				}, client)
				if failed := preflight.Failed(results); len(failed) > 0 {
					names := make([]string, 0, len(failed))
					for _, r := range failed {
						names = append(names, fmt.Sprintf("%s (%s)", r.Name, r.Detail))
					}
					return fmt.Errorf("preflight failed: %s; run `bidskit test` for details", strings.Join(names, ", "))
				}
			}

			options := []coiner.Option{coiner.WithLogger(logger), coiner.WithSubjects(subjects...)}
			store, err := ctx.openLedger(bidsFolder)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			if store != nil {
				defer store.Close()
				options = append(options, coiner.WithRecorder(store))
			}
			if bar := newProgress(cmd.ErrOrStderr()); bar != nil {
				defer bar.Finish()
				options = append(options, coiner.WithProgress(func(o coiner.Outcome) {
					bar.Describe(filepath.Base(o.Source))
					_ = bar.Add(1)
				}))
			}

			c, err := coiner.New(cfg, bmap, options...)
			if err != nil {
				return err
			}
			summary, err := c.Run(cmd.Context(), rawFolder, bidsFolder)
			if err != nil {
				if errors.Is(err, coiner.ErrLocked) {
					return fmt.Errorf("%w; wait for the other run to finish", err)
				}
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, summaryView(summary))
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&plugin, "plugin", "p", "", "Plugin preset (dcm2niix2bids, philips2bids, postfixphilips)")
	cmd.Flags().StringVarP(&bidsmapPath, "bidsmap", "b", "", "Bidsmap file (default: <bidsfolder>/code/bidskit/bidsmap.toml)")
	cmd.Flags().StringSliceVarP(&subjects, "subject", "s", nil, "Only coin these subjects (repeatable)")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip the converter preflight")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the summary as JSON")
	return cmd
}

// newProgress returns a spinner-style bar when w is a terminal.
func newProgress(w io.Writer) *progressbar.ProgressBar {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("coining"),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}

type outcomeView struct {
	Source   string   `json:"source"`
	Subject  string   `json:"subject"`
	Session  string   `json:"session,omitempty"`
	Datatype string   `json:"datatype,omitempty"`
	Suffix   string   `json:"suffix,omitempty"`
	Status   string   `json:"status"`
	Outputs  []string `json:"outputs,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type summaryOutput struct {
	RunID    string         `json:"run_id"`
	Sessions int            `json:"sessions"`
	Counts   map[string]int `json:"counts"`
	Outcomes []outcomeView  `json:"outcomes"`
}

func summaryView(s *coiner.Summary) summaryOutput {
	out := summaryOutput{RunID: s.RunID, Sessions: s.Sessions, Counts: map[string]int{}}
	for status, n := range s.Counts() {
		out.Counts[string(status)] = n
	}
	for _, o := range s.Outcomes {
		view := outcomeView{
			Source:   o.Source,
			Subject:  o.Subject,
			Session:  o.Session,
			Datatype: o.Datatype,
			Suffix:   o.Suffix,
			Status:   string(o.Status),
			Outputs:  o.Outputs,
		}
		if o.Err != nil {
			view.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, view)
	}
	return out
}

func renderSummary(w io.Writer, s *coiner.Summary) {
	rows := make([][]string, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		target := strings.Join(o.Outputs, "\n")
		if o.Err != nil {
			target = o.Err.Error()
		}
		rows = append(rows, []string{
			strings.Trim(o.Subject+"/"+o.Session, "/"),
			filepath.Base(o.Source),
			o.Datatype,
			string(o.Status),
			target,
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable([]string{"Session", "Source", "Datatype", "Status", "Outputs"}, rows, nil))
	}

	counts := s.Counts()
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", counts[ledger.Status(status)], status))
	}
	if len(parts) == 0 {
		parts = append(parts, "no acquisitions")
	}
	fmt.Fprintf(w, "Run %s: %d session(s), %s\n", s.RunID, s.Sessions, strings.Join(parts, ", "))
}
