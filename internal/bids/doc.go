// Package bids models the BIDS filename grammar: the ordered entity table,
// the legal entities per datatype and suffix, and helpers that parse, edit
// and compose entity-keyed names.
//
// The entity table ships embedded (schema.toml) and can be extended with
// custom entities declared in a bidsmap. Everything in this package is pure
// string manipulation; nothing touches the filesystem.
package bids
