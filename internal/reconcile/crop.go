package reconcile

import (
	"sort"
	"strings"

	"bidskit/internal/bids"
)

const cropMarker = "_Crop_"

// Crop is one cropped file that replaces its uncropped twin.
type Crop struct {
	Source string
	Target string
}

// CropTargets pairs every "<base>*_Crop_*" file in names with the name it
// replaces: everything from the last _Crop_ up to the extension is dropped.
func CropTargets(base string, names []string) []Crop {
	var crops []Crop
	for _, name := range names {
		if !strings.HasPrefix(name, base) {
			continue
		}
		stem, ext := bids.SplitExt(name)
		idx := strings.LastIndex(stem, cropMarker)
		if idx < len(base) {
			continue
		}
		crops = append(crops, Crop{Source: name, Target: stem[:idx] + ext})
	}
	sort.Slice(crops, func(i, j int) bool { return crops[i].Source < crops[j].Source })
	return crops
}

// CropMode reports whether converter arguments ask dcm2niix for cropped
// copies ("-x y").
func CropMode(args string) bool {
	fields := strings.Fields(args)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "-x" && strings.EqualFold(fields[i+1], "y") {
			return true
		}
	}
	return false
}
