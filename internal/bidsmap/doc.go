// Package bidsmap loads the dataset mapping configuration that tells the
// coiner how to name each source acquisition.
//
// A bidsmap is a TOML file with an [options] table and one table per source
// format ([DICOM], [PAR]). Each format lists runs; a run matches an
// acquisition when all its attribute patterns match the source header, and
// its bids table supplies the suffix and entity values of the target name.
// Values of the form <Attr> are read from the header, <<...>> marks values
// that are only known while coining (run and echo indices, or header
// attributes that must not be baked into the name at mapping time).
package bidsmap
