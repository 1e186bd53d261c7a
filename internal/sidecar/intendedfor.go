package sidecar

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// IntendedFor is the fieldmap IntendedFor value. It is either a single
// string (a search expression or a path) or a list of paths.
type IntendedFor struct {
	single   string
	multiple []string
	isList   bool
}

// Single wraps a single string value.
func Single(value string) IntendedFor {
	return IntendedFor{single: value}
}

// Multiple wraps a list of paths.
func Multiple(paths []string) IntendedFor {
	return IntendedFor{multiple: append([]string(nil), paths...), isList: true}
}

func (v IntendedFor) IsList() bool { return v.isList }

// Values returns the list form, or the single value as a one element list.
func (v IntendedFor) Values() []string {
	if v.isList {
		return append([]string(nil), v.multiple...)
	}
	if v.single == "" {
		return nil
	}
	return []string{v.single}
}

func (v IntendedFor) Empty() bool {
	return len(v.Values()) == 0
}

// Selectors splits a "<<task-rest><task-nback>>" expression into its search
// terms. Plain values are their own selector and lists are returned as is.
func (v IntendedFor) Selectors() []string {
	if v.isList {
		return v.Values()
	}
	value := strings.TrimSpace(v.single)
	if strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">") {
		value = strings.TrimPrefix(strings.TrimSuffix(value, ">>"), "<<")
		value = strings.TrimPrefix(strings.TrimSuffix(value, ">"), "<")
		var out []string
		for _, part := range strings.Split(value, "><") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	if value == "" {
		return nil
	}
	return []string{value}
}

func (v IntendedFor) MarshalJSON() ([]byte, error) {
	if v.isList {
		if v.multiple == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.multiple)
	}
	return json.Marshal(v.single)
}

func (v *IntendedFor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Single(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = Multiple(list)
		return nil
	}
	if string(data) == "null" {
		*v = IntendedFor{}
		return nil
	}
	return errors.New("IntendedFor must be a string or a list of strings")
}

// IntendedForOf reads the IntendedFor value of doc.
func IntendedForOf(doc *Document) (IntendedFor, bool) {
	raw, ok := doc.Raw("IntendedFor")
	if !ok {
		return IntendedFor{}, false
	}
	var v IntendedFor
	if err := json.Unmarshal(raw, &v); err != nil {
		return IntendedFor{}, false
	}
	return v, true
}

// SearchIntendedFor finds the images below sessionDir whose file name
// contains one of the selectors and returns their paths relative to
// subjectDir with forward slashes. Results keep selector order, are sorted
// within a selector and never repeat.
func SearchIntendedFor(sessionDir, subjectDir string, selectors []string) ([]string, error) {
	var images []string
	err := filepath.WalkDir(sessionDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		images = append(images, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(images)

	seen := map[string]struct{}{}
	var out []string
	for _, selector := range selectors {
		if selector == "" {
			continue
		}
		matcher, err := glob.Compile("*" + glob.QuoteMeta(selector) + "*.nii*")
		if err != nil {
			return nil, err
		}
		for _, path := range images {
			if !matcher.Match(filepath.Base(path)) {
				continue
			}
			rel, err := filepath.Rel(subjectDir, path)
			if err != nil {
				return nil, err
			}
			rel = filepath.ToSlash(rel)
			if _, dup := seen[rel]; dup {
				continue
			}
			seen[rel] = struct{}{}
			out = append(out, rel)
		}
	}
	return out, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
