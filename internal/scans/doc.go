// Package scans maintains the tab separated tables of a BIDS dataset: the
// per-session scans.tsv with acquisition times and the dataset level
// participants.tsv with its JSON data dictionary.
package scans
