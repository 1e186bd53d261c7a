// Package runindex assigns run and echo indices that do not collide with
// names already present in an output directory.
//
// The allocator lists the directory on every call. Callers re-invoke it for
// each file they are about to write so the listing reflects the files
// renamed earlier in the same acquisition.
package runindex
