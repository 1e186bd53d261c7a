// Package config loads, normalizes, and validates bidskit configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts) and
// reads TOML files. Dataset-relative locations (bidsmap, ledger, lock and
// dataset log under <bidsfolder>/code/bidskit) are resolved here so every
// command agrees on where per-dataset state lives.
package config
