package bids

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed schema.toml
var schemaTOML string

// Format describes how an entity value is written.
type Format string

const (
	FormatLabel Format = "label"
	FormatIndex Format = "index"
)

// Datatypes lists the datatypes in the order runs are searched for a match.
var Datatypes = []string{"fmap", "anat", "func", "perf", "dwi", "pet", "meg", "eeg", "ieeg", "beh"}

// Special datatypes that bypass the entity table.
const (
	DatatypeExtra   = "extra_data"
	DatatypeExclude = "exclude"
)

// FieldmapSuffixes are the suffixes handled by the fieldmap rewrite table.
var FieldmapSuffixes = []string{"magnitude", "magnitude1", "magnitude2", "phase1", "phase2", "phasediff", "fieldmap"}

// Entity is one key-value naming unit.
type Entity struct {
	Name   string `toml:"name"`
	Key    string `toml:"key"`
	Format Format `toml:"format"`
}

// SuffixGroup is a set of suffixes sharing the same legal entities.
type SuffixGroup struct {
	Suffixes   []string `toml:"suffixes"`
	Extensions []string `toml:"extensions"`
	Required   []string `toml:"required"`
	Optional   []string `toml:"optional"`

	// Derivatives marks scanner computed maps that are not raw data.
	Derivatives bool `toml:"derivatives"`
}

// CustomEntity declares a non-standard entity that is legal (optional) for
// the listed suffixes. Custom entities are placed after the dir entity.
type CustomEntity struct {
	Name     string   `toml:"name"`
	Key      string   `toml:"key"`
	Format   Format   `toml:"format"`
	Suffixes []string `toml:"suffixes"`
}

// Schema holds the entity order and per-datatype legal entity sets.
type Schema struct {
	Entities  []Entity                 `toml:"entities"`
	Datatypes map[string][]SuffixGroup `toml:"datatypes"`
}

// LoadSchema parses the embedded entity table.
func LoadSchema() (*Schema, error) {
	var s Schema
	if err := toml.Unmarshal([]byte(schemaTOML), &s); err != nil {
		return nil, fmt.Errorf("parse entity schema: %w", err)
	}
	if len(s.Entities) == 0 || len(s.Datatypes) == 0 {
		return nil, fmt.Errorf("parse entity schema: empty table")
	}
	return &s, nil
}

// WithCustomEntities returns a copy of the schema extended with the given
// entities. Keys that already exist are rejected.
func (s *Schema) WithCustomEntities(custom []CustomEntity) (*Schema, error) {
	out := &Schema{
		Entities:  slices.Clone(s.Entities),
		Datatypes: make(map[string][]SuffixGroup, len(s.Datatypes)),
	}
	for dt, groups := range s.Datatypes {
		cloned := make([]SuffixGroup, len(groups))
		for i, g := range groups {
			cloned[i] = SuffixGroup{
				Suffixes:    slices.Clone(g.Suffixes),
				Extensions:  slices.Clone(g.Extensions),
				Required:    slices.Clone(g.Required),
				Optional:    slices.Clone(g.Optional),
				Derivatives: g.Derivatives,
			}
		}
		out.Datatypes[dt] = cloned
	}

	insertAt := slices.IndexFunc(out.Entities, func(e Entity) bool { return e.Key == "dir" }) + 1
	for _, ce := range custom {
		key := strings.TrimSpace(ce.Key)
		if key == "" {
			return nil, fmt.Errorf("custom entity %q: empty key", ce.Name)
		}
		if _, ok := out.Entity(key); ok {
			return nil, fmt.Errorf("custom entity %q: key %q already defined", ce.Name, key)
		}
		format := ce.Format
		if format == "" {
			format = FormatLabel
		}
		name := strings.TrimSpace(ce.Name)
		if name == "" {
			name = key
		}
		out.Entities = slices.Insert(out.Entities, insertAt, Entity{Name: name, Key: key, Format: format})
		insertAt++
		for dt, groups := range out.Datatypes {
			for i := range groups {
				for _, suffix := range ce.Suffixes {
					if slices.Contains(groups[i].Suffixes, suffix) && !slices.Contains(groups[i].Optional, key) {
						groups[i].Optional = append(groups[i].Optional, key)
					}
				}
			}
			out.Datatypes[dt] = groups
		}
	}
	return out, nil
}

// Entity looks up an entity by key.
func (s *Schema) Entity(key string) (Entity, bool) {
	for _, e := range s.Entities {
		if e.Key == key {
			return e, true
		}
	}
	return Entity{}, false
}

// Keys returns the entity keys in canonical order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		keys = append(keys, e.Key)
	}
	return keys
}

// Group returns the suffix group that defines suffix within datatype.
func (s *Schema) Group(datatype, suffix string) (SuffixGroup, bool) {
	for _, g := range s.Datatypes[datatype] {
		if slices.Contains(g.Suffixes, suffix) {
			return g, true
		}
	}
	return SuffixGroup{}, false
}

// Legal reports whether key may appear in a name of datatype and suffix.
// Unknown datatypes (extra_data) accept every entity in the table.
func (s *Schema) Legal(datatype, suffix, key string) bool {
	g, ok := s.Group(datatype, suffix)
	if !ok {
		if _, known := s.Datatypes[datatype]; known {
			return false
		}
		_, isEntity := s.Entity(key)
		return isEntity
	}
	return slices.Contains(g.Required, key) || slices.Contains(g.Optional, key)
}

// Required returns the entities that must be present for datatype and suffix.
func (s *Schema) Required(datatype, suffix string) []string {
	g, ok := s.Group(datatype, suffix)
	if !ok {
		return nil
	}
	return slices.Clone(g.Required)
}

// IsDerivative reports whether suffix names scanner derived data in datatype.
func (s *Schema) IsDerivative(datatype, suffix string) bool {
	g, ok := s.Group(datatype, suffix)
	return ok && g.Derivatives
}

// IsFieldmapSuffix reports whether suffix takes part in fieldmap role rewriting.
func IsFieldmapSuffix(suffix string) bool {
	return slices.Contains(FieldmapSuffixes, suffix)
}
