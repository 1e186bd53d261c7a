// Package sidecar edits the JSON metadata files that accompany converted
// images.
//
// Documents keep every key the converter wrote and only touch the keys a
// patch names. The post-pass helpers fill in fieldmap IntendedFor lists,
// phasediff echo times and the scanner specific fixes applied by the
// Philips presets.
package sidecar
