// Package ledger persists the outcome of every coined acquisition in a
// SQLite database stored next to the dataset (code/bidskit/ledger.db).
//
// Each coin invocation writes one row per source acquisition: which run it
// matched, the files it produced and, for failures, why it stopped. The
// history command reads the same table back.
package ledger
