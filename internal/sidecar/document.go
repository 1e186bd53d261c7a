package sidecar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"bidskit/internal/fileutil"
)

// Document is a JSON sidecar held as raw values so unknown keys survive a
// load and save round trip unchanged.
type Document struct {
	path   string
	fields map[string]json.RawMessage
}

// New returns an empty document that will be written to path.
func New(path string) *Document {
	return &Document{path: path, fields: map[string]json.RawMessage{}}
}

// Load reads the sidecar at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := New(path)
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc.fields); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.fields == nil {
		doc.fields = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (d *Document) Path() string { return d.path }

// Has reports whether key is present, including keys set to null.
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Keys returns the keys in sorted order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Raw returns the encoded value of key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// String returns key as a string. Numbers are formatted; other JSON types
// report false.
func (d *Document) String(key string) (string, bool) {
	raw, ok := d.fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// Float returns key as a number. Numeric strings are accepted.
func (d *Document) Float(key string) (float64, bool) {
	raw, ok := d.fields[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Set encodes value under key. A nil value is stored as null.
func (d *Document) Set(key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	d.fields[key] = raw
	return nil
}

// SetRaw stores an already encoded value.
func (d *Document) SetRaw(key string, raw json.RawMessage) {
	d.fields[key] = append(json.RawMessage(nil), raw...)
}

func (d *Document) Delete(key string) {
	delete(d.fields, key)
}

// Rename moves the value of from to to, replacing any existing value.
func (d *Document) Rename(from, to string) bool {
	raw, ok := d.fields[from]
	if !ok {
		return false
	}
	delete(d.fields, from)
	d.fields[to] = raw
	return true
}

// Marshal renders the document with sorted keys and four space indent.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(d.fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document back to its path.
func (d *Document) Save() error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.path, err)
	}
	return fileutil.WriteAtomic(d.path, data, 0o644)
}

func encode(value any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
