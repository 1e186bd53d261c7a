package bidsmap

import (
	"strings"

	"bidskit/internal/bids"
	"bidskit/internal/sourcedata"
)

// IsIndexPlaceholder reports whether value is a run or echo placeholder such
// as "<<1>>" or "<<>>".
func IsIndexPlaceholder(value string) bool {
	v := strings.TrimSpace(value)
	if !bids.IsDynamic(v) {
		return false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(v, "<<"), ">>")
	for _, r := range inner {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DynamicValue resolves a bidsmap value against a source header. "<A>" is
// replaced by attribute A and "<A><B>" by the concatenation. "<<A>>" is
// resolved the same way; index placeholders and plain values are returned
// unchanged.
func DynamicValue(value string, src sourcedata.AttributeReader) string {
	v := strings.TrimSpace(value)
	if v == "" || IsIndexPlaceholder(v) || v == SourceFilePath {
		return value
	}
	if bids.IsDynamic(v) {
		v = strings.TrimSuffix(strings.TrimPrefix(v, "<"), ">")
	}
	if !strings.HasPrefix(v, "<") || !strings.HasSuffix(v, ">") {
		return value
	}
	var b strings.Builder
	for _, key := range strings.Split(v[1:len(v)-1], "><") {
		if src == nil {
			continue
		}
		if attr, ok := src.Attribute(strings.TrimSpace(key)); ok {
			b.WriteString(strings.TrimSpace(attr))
		}
	}
	return b.String()
}

// Labels resolves the subject and session labels of a source with the
// format's subject and session expressions. Labels carry their sub-/ses-
// prefix; session is empty when the dataset has no sessions.
func (f *Format) Labels(src *sourcedata.Source) (subject, session string) {
	subject = label(f.Subject, "sub-", src, 0)
	session = label(f.Session, "ses-", src, 1)
	return subject, session
}

func label(expr, prefix string, src *sourcedata.Source, part int) string {
	if src == nil {
		return ""
	}
	var raw string
	if strings.TrimSpace(expr) == SourceFilePath {
		sub, ses := sourcedata.PathLabels(src.Path)
		raw = [2]string{sub, ses}[part]
	} else {
		raw = DynamicValue(expr, src.AttributeReader)
	}
	clean := bids.CleanLabel(strings.TrimPrefix(strings.TrimSpace(raw), prefix))
	if clean == "" {
		return ""
	}
	return prefix + clean
}

// Descriptor builds the run descriptor for src: datatype, suffix and entity
// values with header attributes substituted. Index placeholders are kept for
// the allocator.
func (r *Run) Descriptor(src sourcedata.AttributeReader) bids.Run {
	out := bids.Run{Datatype: r.Datatype, Suffix: r.Suffix(), Entities: map[string]string{}}
	for key, value := range r.Bids {
		if key == "suffix" {
			continue
		}
		resolved := DynamicValue(value, src)
		if strings.TrimSpace(resolved) == "" {
			continue
		}
		out.Entities[key] = resolved
	}
	return out
}

// Declared returns the descriptor as written in the bidsmap, without header
// substitution. Dynamic values count as present.
func (r *Run) Declared() bids.Run {
	out := bids.Run{Datatype: r.Datatype, Suffix: r.Suffix(), Entities: map[string]string{}}
	for key, value := range r.Bids {
		if key == "suffix" || strings.TrimSpace(value) == "" {
			continue
		}
		out.Entities[key] = value
	}
	return out
}

// MetaValues resolves the run meta table. String values are substituted
// from the header without cleanup, except IntendedFor whose search
// expression is kept for the fieldmap post pass.
func (r *Run) MetaValues(src sourcedata.AttributeReader) map[string]any {
	out := make(map[string]any, len(r.Meta))
	for key, value := range r.Meta {
		s, ok := value.(string)
		if !ok || key == "IntendedFor" {
			out[key] = value
			continue
		}
		out[key] = DynamicValue(s, src)
	}
	return out
}
