// Package logging assembles the structured slog loggers used by bidskit.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that stamp run IDs, sessions and acquisitions on log
// lines. A coin invocation tees its output into the dataset log under
// code/bidskit so every conversion leaves a record next to the data.
package logging
