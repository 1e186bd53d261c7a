// Package coiner converts the raw sessions of a dataset into a BIDS tree.
//
// A Coiner walks every sub-*/ses-* folder below the raw root, matches each
// acquisition against the bidsmap, composes its target name, allocates
// run and echo indices, runs dcm2niix and reconciles the converter output
// into final BIDS names. Once all acquisitions of a session are done it
// writes the scans table, runs the sidecar post pass and updates
// participants.tsv.
//
// Failures are contained per acquisition: they are logged, recorded in the
// ledger and never abort the session. Only setup problems (bidsmap, plugin
// options, a held dataset lock) are returned from Run.
package coiner
