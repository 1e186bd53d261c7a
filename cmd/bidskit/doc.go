// Package main hosts the bidskit CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration and the dataset bidsmap,
// then hands off to the internal packages: coin drives the session coiner,
// test runs the converter preflight, history reads the ledger and rename
// applies the filename reconciliation to a folder of existing converter
// output. Keep this package lean; behaviour belongs in internal/.
package main
