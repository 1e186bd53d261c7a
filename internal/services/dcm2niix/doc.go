// Package dcm2niix mediates access to the dcm2niix converter.
//
// It builds the "{args} -f <name> -o <outdir> <source>" command line, streams
// converter output into the structured logger, applies the optional
// per-acquisition timeout and classifies failures with the services error
// markers. Tests swap the process runner through WithExecutor.
package dcm2niix
