package scans

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"

	"bidskit/internal/fileutil"
)

// NA is written for empty cells.
const NA = "n/a"

// Table is a TSV file keyed by its first column.
type Table struct {
	Index   string
	columns []string
	rows    map[string]map[string]string
}

// NewTable returns an empty table with the given index column.
func NewTable(index string, columns ...string) *Table {
	t := &Table{Index: index, rows: map[string]map[string]string{}}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

// ReadTable loads path, or returns an empty table when it does not exist.
// The first header cell must equal index.
func ReadTable(path, index string) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewTable(index), nil
	}
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return NewTable(index), nil
	}
	header := records[0]
	if first := strings.TrimSpace(header[0]); first != index {
		return nil, fmt.Errorf("parse %s: first column is %q, want %q", path, first, index)
	}
	t := NewTable(index, header[1:]...)
	for _, rec := range records[1:] {
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		key := rec[0]
		for i, col := range header[1:] {
			if i+1 < len(rec) {
				t.Set(key, col, rec[i+1])
			}
		}
		if !t.Has(key) {
			t.rows[key] = map[string]string{}
		}
	}
	return t, nil
}

func (t *Table) addColumn(name string) {
	if name == "" || name == t.Index || slices.Contains(t.columns, name) {
		return
	}
	t.columns = append(t.columns, name)
}

// Columns returns the non-index columns in file order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Keys returns the row keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Table) Has(key string) bool {
	_, ok := t.rows[key]
	return ok
}

// Get returns a cell; "n/a" cells read as empty.
func (t *Table) Get(key, column string) string {
	v := t.rows[key][column]
	if v == NA {
		return ""
	}
	return v
}

// Set writes a cell, adding the row and column as needed.
func (t *Table) Set(key, column, value string) {
	row, ok := t.rows[key]
	if !ok {
		row = map[string]string{}
		t.rows[key] = row
	}
	t.addColumn(column)
	row[column] = value
}

func (t *Table) Delete(key string) {
	delete(t.rows, key)
}

// Write saves the table with rows ordered by less (key order when nil).
func (t *Table) Write(path string, less func(a, b string) bool) error {
	keys := t.Keys()
	if less != nil {
		sortKeys(keys, less)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(append([]string{t.Index}, t.columns...)); err != nil {
		return err
	}
	for _, key := range keys {
		record := make([]string, 0, len(t.columns)+1)
		record = append(record, key)
		for _, col := range t.columns {
			v := strings.TrimSpace(t.rows[key][col])
			if v == "" {
				v = NA
			}
			record = append(record, v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, buf.Bytes(), 0o644)
}

func sortKeys(keys []string, less func(a, b string) bool) {
	sort.SliceStable(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
}
