package bidsmap

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pelletier/go-toml/v2"

	"bidskit/internal/bids"
	"bidskit/internal/sourcedata"
)

//go:embed template.toml
var templateTOML []byte

// SourceFilePath makes the subject or session label come from the sub-/ses-
// folders of the source path.
const SourceFilePath = "<<SourceFilePath>>"

// Bidsmap is a parsed mapping file.
type Bidsmap struct {
	Options Options `toml:"options"`
	DICOM   *Format `toml:"DICOM"`
	PAR     *Format `toml:"PAR"`

	path string
}

// Options are the dataset wide settings.
type Options struct {
	Bidsignore     []string                 `toml:"bidsignore"`
	CustomEntities []bids.CustomEntity      `toml:"custom_entities"`
	Plugins        map[string]PluginOptions `toml:"plugins"`
}

// PluginOptions configure one converter plugin.
type PluginOptions struct {
	// Path is prepended to the dcm2niix binary name.
	Path string `toml:"path"`
	Args string `toml:"args"`
	// Anonymize controls whether participants.tsv receives header values.
	Anonymize bool `toml:"anonymize"`
	// MultibandFactor and RepetitionTime feed the slice timing fallback of
	// the Philips post pass.
	MultibandFactor int     `toml:"multiband_factor"`
	RepetitionTime  float64 `toml:"repetition_time"`
}

// Format holds the runs of one source data format.
type Format struct {
	Subject string `toml:"subject"`
	Session string `toml:"session"`
	Runs    []Run  `toml:"runs"`
}

// Run maps matching acquisitions to a target name.
type Run struct {
	Datatype   string            `toml:"datatype"`
	Attributes map[string]string `toml:"attributes"`
	Bids       map[string]string `toml:"bids"`
	Meta       map[string]any    `toml:"meta"`

	matchers map[string]glob.Glob
	order    int
}

// Load reads and validates a bidsmap file.
func Load(path string) (*Bidsmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bidsmap: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("bidsmap %s: %w", path, err)
	}
	b.path = path
	return b, nil
}

// Parse decodes and validates bidsmap TOML.
func Parse(data []byte) (*Bidsmap, error) {
	var b Bidsmap
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := b.compile(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Template returns the bundled starter bidsmap.
func Template() []byte {
	return slices.Clone(templateTOML)
}

// WriteTemplate writes the starter bidsmap to path unless it exists.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("bidsmap %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bidsmap directory: %w", err)
	}
	return os.WriteFile(path, templateTOML, 0o644)
}

func (b *Bidsmap) Path() string { return b.path }

// Format returns the runs for a source format, or nil.
func (b *Bidsmap) Format(f sourcedata.Format) *Format {
	switch f {
	case sourcedata.FormatDICOM:
		return b.DICOM
	case sourcedata.FormatPAR:
		return b.PAR
	default:
		return nil
	}
}

// Plugin returns the options of the named plugin.
func (b *Bidsmap) Plugin(name string) (PluginOptions, bool) {
	opts, ok := b.Options.Plugins[name]
	return opts, ok
}

// Schema extends base with the custom entities of this bidsmap.
func (b *Bidsmap) Schema(base *bids.Schema) (*bids.Schema, error) {
	if len(b.Options.CustomEntities) == 0 {
		return base, nil
	}
	return base.WithCustomEntities(b.Options.CustomEntities)
}

// Ignored reports whether datatype is listed in bidsignore.
func (b *Bidsmap) Ignored(datatype string) bool {
	for _, entry := range b.Options.Bidsignore {
		if strings.TrimSuffix(strings.TrimSpace(entry), "/") == datatype {
			return true
		}
	}
	return false
}

func knownDatatype(dt string) bool {
	return dt == bids.DatatypeExclude || dt == bids.DatatypeExtra || slices.Contains(bids.Datatypes, dt)
}

func (b *Bidsmap) compile() error {
	if b.DICOM == nil && b.PAR == nil {
		return errors.New("no [DICOM] or [PAR] section")
	}
	for _, section := range []struct {
		name   string
		format *Format
	}{{"DICOM", b.DICOM}, {"PAR", b.PAR}} {
		if section.format == nil {
			continue
		}
		for i := range section.format.Runs {
			run := &section.format.Runs[i]
			run.order = i
			if err := run.compile(); err != nil {
				return fmt.Errorf("%s run %d: %w", section.name, i+1, err)
			}
		}
	}
	return nil
}

func (r *Run) compile() error {
	if !knownDatatype(r.Datatype) {
		return fmt.Errorf("unknown datatype %q", r.Datatype)
	}
	if r.Datatype != bids.DatatypeExclude && strings.TrimSpace(r.Bids["suffix"]) == "" {
		return errors.New("bids.suffix is required")
	}
	r.matchers = make(map[string]glob.Glob, len(r.Attributes))
	for key, pattern := range r.Attributes {
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("attribute %s: invalid pattern %q: %w", key, pattern, err)
		}
		r.matchers[key] = g
	}
	if r.Bids == nil {
		r.Bids = map[string]string{}
	}
	return nil
}

// Suffix is the BIDS suffix of the run.
func (r *Run) Suffix() string { return strings.TrimSpace(r.Bids["suffix"]) }

// Excluded reports whether matching acquisitions are left out.
func (r *Run) Excluded() bool { return r.Datatype == bids.DatatypeExclude }

// Matches reports whether every non-empty attribute pattern matches the
// source header. Missing attributes are matched as empty strings.
func (r *Run) Matches(src sourcedata.AttributeReader) bool {
	for key, g := range r.matchers {
		value := ""
		if src != nil {
			value, _ = src.Attribute(key)
		}
		if !g.Match(strings.TrimSpace(value)) {
			return false
		}
	}
	return true
}
