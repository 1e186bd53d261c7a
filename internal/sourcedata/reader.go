package sourcedata

import (
	"path/filepath"
	"strings"
)

// Format is the raw data format of a session.
type Format string

const (
	FormatDICOM Format = "DICOM"
	FormatPAR   Format = "PAR"
)

// AttributeReader returns a header attribute as text.
type AttributeReader interface {
	Attribute(key string) (string, bool)
}

// Attributes is an in-memory AttributeReader.
type Attributes map[string]string

// Attribute implements AttributeReader.
func (a Attributes) Attribute(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// Source is one acquisition: a DICOM series folder or a PAR file.
type Source struct {
	// Path is the folder or file handed to the converter.
	Path string
	// File is the file the attributes were read from.
	File   string
	Format Format
	AttributeReader
}

// Attr returns the attribute or "" when it is absent.
func (s *Source) Attr(key string) string {
	if s == nil || s.AttributeReader == nil {
		return ""
	}
	v, _ := s.Attribute(key)
	return v
}

// PathLabels extracts the subject and session labels from the sub-/ses-
// components of path. The innermost component wins.
func PathLabels(path string) (subject, session string) {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		switch {
		case strings.HasPrefix(part, "sub-"):
			subject = part
		case strings.HasPrefix(part, "ses-"):
			session = part
		}
	}
	return subject, session
}
