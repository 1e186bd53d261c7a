package scans

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"bidskit/internal/bids"
)

const (
	scansIndex  = "filename"
	acqTimeCol  = "acq_time"
	shiftedDate = "1925-01-01T"
)

// timeLayouts are the acquisition time spellings seen in dcm2niix sidecars,
// DICOM headers and PAR exam dates.
var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04:05",
	"150405.999999999",
	"150405",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006.01.02 / 15:04:05",
	"20060102150405.999999999",
	"20060102150405",
}

// AcquisitionTime formats the first parseable candidate as a BIDS acq_time.
// The date is replaced by 1925-01-01 so the table carries no real dates;
// "n/a" is returned when no candidate parses.
func AcquisitionTime(candidates ...string) string {
	for _, c := range candidates {
		if t, ok := parseTime(c); ok {
			return shiftedDate + strftime.Format("%H:%M:%S", t)
		}
	}
	return NA
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ScansPath returns <session>/<sub>[_<ses>]_scans.tsv.
func ScansPath(sessionDir, subject, session string) string {
	name := subject
	if session != "" {
		name += "_" + session
	}
	return filepath.Join(sessionDir, name+"_scans.tsv")
}

// Scans is the scans.tsv of one session.
type Scans struct {
	path  string
	table *Table
}

// OpenScans reads the scans table of a session, creating an empty one in
// memory when the file does not exist yet.
func OpenScans(path string) (*Scans, error) {
	table, err := ReadTable(path, scansIndex)
	if err != nil {
		return nil, err
	}
	table.addColumn(acqTimeCol)
	return &Scans{path: path, table: table}, nil
}

// NewScans starts an empty scans table at path.
func NewScans(path string) *Scans {
	return &Scans{path: path, table: NewTable(scansIndex, acqTimeCol)}
}

func (s *Scans) Path() string { return s.path }

// Add records an image; filename is relative to the session folder.
func (s *Scans) Add(filename, acqTime string) {
	s.table.Set(filepath.ToSlash(filename), acqTimeCol, acqTime)
}

// Remove drops the row of an image that no longer exists.
func (s *Scans) Remove(filename string) {
	s.table.Delete(filepath.ToSlash(filename))
}

// AcqTime returns the recorded time of filename.
func (s *Scans) AcqTime(filename string) (string, bool) {
	key := filepath.ToSlash(filename)
	if !s.table.Has(key) {
		return "", false
	}
	return s.table.Get(key, acqTimeCol), true
}

// Len is the number of rows.
func (s *Scans) Len() int { return len(s.table.rows) }

// Files returns the row keys in file order (acq_time, then filename).
func (s *Scans) Files() []string {
	keys := s.table.Keys()
	sortKeys(keys, s.less)
	return keys
}

// Save writes the table sorted by acq_time, then filename. Unknown times
// sort last.
func (s *Scans) Save() error {
	return s.table.Write(s.path, s.less)
}

func (s *Scans) less(a, b string) bool {
	ta, tb := s.table.Get(a, acqTimeCol), s.table.Get(b, acqTimeCol)
	if ta != tb {
		if ta == "" {
			return false
		}
		if tb == "" {
			return true
		}
		return ta < tb
	}
	return a < b
}

// Tracked reports whether an output belongs in scans.tsv: images of
// datatypes outside bidsignore, identified by their image extension.
func Tracked(filename string, ignore []string) bool {
	_, ext := bids.SplitExt(filename)
	switch ext {
	case ".nii", ".nii.gz", ".tsv.gz":
	default:
		return false
	}
	rel := filepath.ToSlash(filename)
	for _, pattern := range ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/")+"/") {
			return false
		}
	}
	return true
}
