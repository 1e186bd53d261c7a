package sourcedata

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bidskit/internal/services"
)

// Discover lists the acquisitions of a raw session folder. PAR files win
// over DICOM folders when both are present. Hidden entries are skipped.
func Discover(sessionDir string) (Format, []string, error) {
	info, err := os.Stat(sessionDir)
	if err != nil {
		return "", nil, services.Wrap(services.ErrNotFound, "discover", "stat session", sessionDir, err)
	}
	if !info.IsDir() {
		return "", nil, services.Wrap(services.ErrValidation, "discover", "session", sessionDir+" is not a folder", nil)
	}

	var (
		parFiles  []string
		dicomDirs []string
	)
	seenDirs := map[string]struct{}{}
	err = filepath.WalkDir(sessionDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if path != sessionDir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsPAR(path) {
			parFiles = append(parFiles, path)
			return nil
		}
		dir := filepath.Dir(path)
		if _, seen := seenDirs[dir]; seen {
			return nil
		}
		if IsDICOM(path) {
			seenDirs[dir] = struct{}{}
			dicomDirs = append(dicomDirs, dir)
		}
		return nil
	})
	if err != nil {
		return "", nil, services.Wrap(services.ErrNotFound, "discover", "walk session", sessionDir, err)
	}

	switch {
	case len(parFiles) > 0:
		sort.Strings(parFiles)
		return FormatPAR, parFiles, nil
	case len(dicomDirs) > 0:
		sort.Strings(dicomDirs)
		return FormatDICOM, dicomDirs, nil
	default:
		return "", nil, services.Wrap(services.ErrNotFound, "discover", "session", "no DICOM or PAR data in "+sessionDir, nil)
	}
}

// Open reads the header of one acquisition found by Discover.
func Open(format Format, path string) (*Source, error) {
	switch format {
	case FormatDICOM:
		file, err := FirstDICOM(path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenDICOM(file)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "discover", "read header", file, err)
		}
		return &Source{Path: path, File: file, Format: format, AttributeReader: reader}, nil
	case FormatPAR:
		reader, err := OpenPAR(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "discover", "read header", path, err)
		}
		return &Source{Path: path, File: path, Format: format, AttributeReader: reader}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "discover", "open", fmt.Sprintf("unsupported data format %q", format), nil)
	}
}

// Sessions lists the session folders below a raw data root: every
// sub-*/ses-* folder, or the sub-* folder itself when it has no sessions.
func Sessions(rawRoot string, subjects []string) ([]string, error) {
	entries, err := os.ReadDir(rawRoot)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "discover", "list subjects", rawRoot, err)
	}
	want := map[string]struct{}{}
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "sub-") {
			s = "sub-" + s
		}
		want[s] = struct{}{}
	}

	var sessions []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "sub-") {
			continue
		}
		if _, ok := want[entry.Name()]; len(want) > 0 && !ok {
			continue
		}
		subjectDir := filepath.Join(rawRoot, entry.Name())
		children, err := os.ReadDir(subjectDir)
		if err != nil {
			continue
		}
		found := false
		for _, child := range children {
			if child.IsDir() && strings.HasPrefix(child.Name(), "ses-") {
				sessions = append(sessions, filepath.Join(subjectDir, child.Name()))
				found = true
			}
		}
		if !found {
			sessions = append(sessions, subjectDir)
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}
