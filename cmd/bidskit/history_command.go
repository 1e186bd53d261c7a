package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bidskit/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		runID      string
		subject    string
		status     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history <bidsfolder>",
		Short: "Show the acquisitions recorded by earlier coin runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Ledger.Enabled {
				return fmt.Errorf("the ledger is disabled in %s", ctx.configPath)
			}
			bidsFolder, err := expandArg(args[0])
			if err != nil {
				return err
			}
			filter := ledger.Filter{
				RunID:   strings.TrimSpace(runID),
				Subject: normalizeLabel(subject, "sub-"),
				Status:  ledger.Status(strings.ToLower(strings.TrimSpace(status))),
				Limit:   limit,
			}
			switch filter.Status {
			case "", ledger.StatusConverted, ledger.StatusFailed, ledger.StatusSkipped:
			default:
				return fmt.Errorf("unknown status %q (converted, failed or skipped)", status)
			}

			store, err := ctx.openLedger(bidsFolder)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No acquisitions recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "When", "Session", "Source", "Run", "Status", "Detail"},
				historyRows(records, time.Now()),
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Only show one coin run")
	cmd.Flags().StringVar(&subject, "subject", "", "Only show one subject")
	cmd.Flags().StringVar(&status, "status", "", "Only show converted, failed or skipped acquisitions")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of rows (0 = all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the records as JSON")
	return cmd
}

func historyRows(records []ledger.Record, now time.Time) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		when := "-"
		if !rec.CreatedAt.IsZero() {
			when = humanize.RelTime(rec.CreatedAt, now, "ago", "from now")
		}
		run := rec.Datatype
		if rec.Suffix != "" {
			run = strings.Trim(run+"/"+rec.Suffix, "/")
		}
		detail := strings.Join(rec.Outputs, "\n")
		if rec.Error != "" {
			detail = rec.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", rec.ID),
			when,
			strings.Trim(rec.Subject+"/"+rec.Session, "/"),
			filepath.Base(rec.Source),
			run,
			string(rec.Status),
			detail,
		})
	}
	return rows
}

func normalizeLabel(value, prefix string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, prefix) {
		return value
	}
	return prefix + value
}
