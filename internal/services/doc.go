// Package services defines shared utilities consumed by the coiner and its
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp the invocation run ID, the session being
//     coined and the acquisition in flight for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent ledger statuses (failed vs skipped).
//
// Use these helpers when wiring new plugin logic so failure handling and
// observability stay uniform across acquisitions.
package services
