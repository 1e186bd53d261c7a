// Package sourcedata finds acquisitions in a raw scanner session and exposes
// their header attributes.
//
// A session is either a tree of DICOM series folders or a folder of Philips
// PAR/REC files. Header values are read through the AttributeReader
// capability so bidsmap matching and sidecar patching never depend on the
// file format.
package sourcedata
