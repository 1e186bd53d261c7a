package sourcedata

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"bidskit/internal/services"
)

const dicomMagicOffset = 128

// IsDICOM reports whether path starts with the DICM preamble.
func IsDICOM(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, dicomMagicOffset+4)
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf[dicomMagicOffset:], []byte("DICM"))
}

// FirstDICOM returns the first DICOM file (in name order) directly inside dir.
func FirstDICOM(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.EqualFold(name, "DICOMDIR") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if IsDICOM(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no DICOM file in %s", services.ErrNotFound, dir)
}

// DICOMReader reads attributes from a parsed DICOM dataset.
type DICOMReader struct {
	ds dicom.Dataset
}

// NewDICOMReader wraps an already parsed dataset.
func NewDICOMReader(ds dicom.Dataset) *DICOMReader {
	return &DICOMReader{ds: ds}
}

// OpenDICOM parses the header of path, skipping pixel data.
func OpenDICOM(path string) (*DICOMReader, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse dicom %s: %w", path, err)
	}
	return NewDICOMReader(ds), nil
}

// Attribute looks key up by keyword (SeriesDescription) or by tag written as
// "0008,103E" or "(0008,103E)". Multi-valued elements are joined with a
// backslash.
func (r *DICOMReader) Attribute(key string) (string, bool) {
	t, ok := lookupTag(key)
	if !ok {
		return "", false
	}
	elem, err := r.ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return "", false
	}
	return formatValue(elem.Value)
}

func lookupTag(key string) (tag.Tag, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return tag.Tag{}, false
	}
	if t, ok := parseTag(key); ok {
		return t, true
	}
	info, err := tag.FindByName(key)
	if err != nil {
		return tag.Tag{}, false
	}
	return info.Tag, true
}

func parseTag(key string) (tag.Tag, bool) {
	trimmed := strings.Trim(key, "()")
	group, element, ok := strings.Cut(trimmed, ",")
	if !ok {
		return tag.Tag{}, false
	}
	g, err := strconv.ParseUint(strings.TrimSpace(group), 16, 16)
	if err != nil {
		return tag.Tag{}, false
	}
	e, err := strconv.ParseUint(strings.TrimSpace(element), 16, 16)
	if err != nil {
		return tag.Tag{}, false
	}
	return tag.Tag{Group: uint16(g), Element: uint16(e)}, true
}

func formatValue(v dicom.Value) (string, bool) {
	var parts []string
	switch v.ValueType() {
	case dicom.Strings:
		for _, s := range dicom.MustGetStrings(v) {
			parts = append(parts, strings.TrimSpace(strings.TrimRight(s, "\x00")))
		}
	case dicom.Ints:
		for _, n := range dicom.MustGetInts(v) {
			parts = append(parts, strconv.Itoa(n))
		}
	case dicom.Floats:
		for _, f := range dicom.MustGetFloats(v) {
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
	default:
		return "", false
	}
	return strings.Join(parts, `\`), true
}
