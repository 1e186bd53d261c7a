package bids

import (
	"path/filepath"
	"slices"
	"strings"
)

var compoundExtensions = []string{".nii.gz", ".tsv.gz", ".ome.tif", ".ome.btf", ".ome.zarr"}

// SplitExt separates a file's base name into stem and extension, keeping
// multi-part extensions such as ".nii.gz" together.
func SplitExt(filename string) (stem, ext string) {
	base := filepath.Base(filename)
	lower := strings.ToLower(base)
	for _, compound := range compoundExtensions {
		if strings.HasSuffix(lower, compound) && len(base) > len(compound) {
			return base[:len(base)-len(compound)], base[len(base)-len(compound):]
		}
	}
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

// KeyValue is one parsed entity segment.
type KeyValue struct {
	Key   string
	Value string
}

// Name is a parsed BIDS-style stem. Segments without a dash are collected
// into Suffix, joined with underscores, so converter postfixes that follow
// the suffix survive a parse/compose round trip.
type Name struct {
	Entities []KeyValue
	Suffix   string
}

// ParseName splits a stem into entity segments and suffix.
func ParseName(stem string) Name {
	var n Name
	var suffix []string
	for _, segment := range strings.Split(stem, "_") {
		if segment == "" {
			continue
		}
		if key, value, ok := strings.Cut(segment, "-"); ok {
			n.Entities = append(n.Entities, KeyValue{Key: key, Value: value})
			continue
		}
		suffix = append(suffix, segment)
	}
	n.Suffix = strings.Join(suffix, "_")
	return n
}

// Get returns the value for key.
func (n Name) Get(key string) (string, bool) {
	for _, kv := range n.Entities {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key, appending the entity when it is absent.
// An empty value removes the entity.
func (n *Name) Set(key, value string) {
	idx := slices.IndexFunc(n.Entities, func(kv KeyValue) bool { return kv.Key == key })
	switch {
	case value == "" && idx >= 0:
		n.Entities = slices.Delete(n.Entities, idx, idx+1)
	case value == "":
	case idx >= 0:
		n.Entities[idx].Value = value
	default:
		n.Entities = append(n.Entities, KeyValue{Key: key, Value: value})
	}
}

// String joins the entities in their current order followed by the suffix.
func (n Name) String() string {
	parts := make([]string, 0, len(n.Entities)+1)
	for _, kv := range n.Entities {
		parts = append(parts, kv.Key+"-"+kv.Value)
	}
	if n.Suffix != "" {
		parts = append(parts, n.Suffix)
	}
	return strings.Join(parts, "_")
}

// Canonical reorders the entities into table order. Keys the table does not
// know keep their relative order and follow the known ones.
func (s *Schema) Canonical(n Name) Name {
	out := Name{Suffix: n.Suffix, Entities: make([]KeyValue, 0, len(n.Entities))}
	for _, key := range s.Keys() {
		if v, ok := n.Get(key); ok {
			out.Entities = append(out.Entities, KeyValue{Key: key, Value: v})
		}
	}
	for _, kv := range n.Entities {
		if _, known := s.Entity(kv.Key); !known {
			out.Entities = append(out.Entities, kv)
		}
	}
	return out
}

// GetValue returns the value of key in a filename, or "" when absent.
func GetValue(filename, key string) string {
	stem, _ := SplitExt(filename)
	v, _ := ParseName(stem).Get(key)
	return v
}

// InsertEntity sets key to value in filename and recomposes it in canonical
// order, keeping the extension. An empty value removes the entity.
func (s *Schema) InsertEntity(filename, key, value string) string {
	stem, ext := SplitExt(filename)
	n := ParseName(stem)
	n.Set(key, value)
	return s.Canonical(n).String() + ext
}

// AppendLabel appends value to the current label of key, creating the
// entity when it is missing.
func (s *Schema) AppendLabel(filename, key, value string) string {
	return s.InsertEntity(filename, key, GetValue(filename, key)+value)
}
