package bids

import (
	"maps"
	"strings"
	"unicode"
)

// Run is the target classification of one source acquisition.
type Run struct {
	Datatype string
	Suffix   string
	Entities map[string]string
}

// Clone returns a deep copy of the run.
func (r Run) Clone() Run {
	out := r
	out.Entities = maps.Clone(r.Entities)
	if out.Entities == nil {
		out.Entities = map[string]string{}
	}
	return out
}

// RunLegal reports whether key may appear in names for this run.
func (s *Schema) RunLegal(r Run, key string) bool {
	return s.Legal(r.Datatype, r.Suffix, key)
}

// Compose builds the canonical stem for a run. Subject and session may be
// passed with or without their prefix. Entities that are not legal for the
// run's suffix are dropped, empty values are skipped and index values keep
// only their digits.
func (s *Schema) Compose(subject, session string, r Run) string {
	subject = CleanLabel(strings.TrimPrefix(subject, "sub-"))
	session = CleanLabel(strings.TrimPrefix(session, "ses-"))

	n := Name{Suffix: r.Suffix}
	n.Set("sub", subject)
	n.Set("ses", session)
	for _, e := range s.Entities {
		if e.Key == "sub" || e.Key == "ses" {
			continue
		}
		raw, ok := r.Entities[e.Key]
		if !ok || !s.RunLegal(r, e.Key) {
			continue
		}
		n.Set(e.Key, cleanValue(raw, e.Format))
	}
	return n.String()
}

// Missing lists the required entities that have no value in the run.
// Subject and session are supplied separately and are not reported.
func (s *Schema) Missing(r Run) []string {
	var missing []string
	for _, key := range s.Required(r.Datatype, r.Suffix) {
		if key == "sub" || key == "ses" {
			continue
		}
		if strings.TrimSpace(r.Entities[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func cleanValue(value string, format Format) string {
	if format != FormatIndex {
		return CleanLabel(value)
	}
	var b strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if trimmed := strings.TrimLeft(digits, "0"); trimmed != "" || digits == "" {
		return trimmed
	}
	return "0"
}
