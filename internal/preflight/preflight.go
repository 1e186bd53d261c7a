package preflight

import (
	"context"

	"bidskit/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Target names the folders a coin run touches.
type Target struct {
	RawFolder  string
	BidsFolder string
	PluginPath string
}

// RunAll executes the preflight checks for a coin run.
func RunAll(ctx context.Context, cfg *config.Config, target Target, checker VersionChecker) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if target.RawFolder != "" {
		results = append(results, CheckDirectoryReadable("Source folder", target.RawFolder))
	}
	if target.BidsFolder != "" {
		results = append(results, CheckCreatable("BIDS folder", target.BidsFolder))
	}

	for _, status := range CheckSystemDeps(cfg, target.PluginPath) {
		detail := status.Command
		if status.Detail != "" {
			detail = status.Detail
		}
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Optional: status.Optional,
			Detail:   detail,
		})
	}

	results = append(results, CheckConverter(ctx, checker))
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
