package bidsmap

import (
	"sort"

	"bidskit/internal/bids"
	"bidskit/internal/sourcedata"
)

// searchOrder ranks datatypes for matching: excluded runs first, then the
// BIDS datatypes, then extra_data as a catch all.
func searchOrder(datatype string) int {
	switch datatype {
	case bids.DatatypeExclude:
		return 0
	case bids.DatatypeExtra:
		return len(bids.Datatypes) + 1
	}
	for i, dt := range bids.Datatypes {
		if dt == datatype {
			return i + 1
		}
	}
	return len(bids.Datatypes) + 2
}

// orderedRuns returns the runs in the order they are tried.
func (f *Format) orderedRuns() []*Run {
	runs := make([]*Run, len(f.Runs))
	for i := range f.Runs {
		runs[i] = &f.Runs[i]
	}
	sort.SliceStable(runs, func(i, j int) bool {
		oi, oj := searchOrder(runs[i].Datatype), searchOrder(runs[j].Datatype)
		if oi != oj {
			return oi < oj
		}
		return runs[i].order < runs[j].order
	})
	return runs
}

// Match returns the first run whose attribute patterns all match src.
func (f *Format) Match(src sourcedata.AttributeReader) (*Run, bool) {
	if f == nil {
		return nil, false
	}
	for _, run := range f.orderedRuns() {
		if run.Matches(src) {
			return run, true
		}
	}
	return nil, false
}
