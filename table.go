package mci_json2tsv

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Row maps column name to cell value. Absent columns are written as empty.
type Row map[string]string

// Table is an ordered-column, string-valued record set. It is the unit
// every transform produces and every sink consumes.
type Table struct {
	Columns []string
	Rows    []Row

	colIdx map[string]int
}

func NewTable(columns ...string) *Table {
	t := &Table{colIdx: map[string]int{}}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// AddColumn registers a column, preserving first-seen order. Idempotent.
func (t *Table) AddColumn(name string) {
	if _, ok := t.colIdx[name]; ok {
		return
	}
	t.colIdx[name] = len(t.Columns)
	t.Columns = append(t.Columns, name)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// AppendRow appends a row and registers its columns in the given order.
func (t *Table) AppendRow(cols []string, r Row) {
	for _, c := range cols {
		t.AddColumn(c)
	}
	t.Rows = append(t.Rows, r)
}

func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// DropDuplicateRows removes rows identical across all registered columns,
// keeping the first occurrence.
func (t *Table) DropDuplicateRows() {
	seen := map[string]bool{}
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		var b strings.Builder
		for _, c := range t.Columns {
			v, ok := r[c]
			if ok {
				b.WriteString(v)
			}
			b.WriteByte('\x1f')
			if !ok {
				// distinguish absent from empty
				b.WriteByte('\x1e')
			}
		}
		key := b.String()
		if !seen[key] {
			seen[key] = true
			kept = append(kept, r)
		}
	}
	t.Rows = kept
}

// Subset returns a new table holding only the requested columns, in the
// requested order. Columns absent from the table are silently skipped.
func (t *Table) Subset(cols []string) *Table {
	out := NewTable()
	for _, c := range cols {
		if t.HasColumn(c) {
			out.AddColumn(c)
		}
	}
	for _, r := range t.Rows {
		nr := Row{}
		for _, c := range out.Columns {
			if v, ok := r[c]; ok {
				nr[c] = v
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// Rename renames columns per the given old->new mapping.
func (t *Table) Rename(mapping map[string]string) {
	renamed := NewTable()
	for _, c := range t.Columns {
		if n, ok := mapping[c]; ok {
			renamed.AddColumn(n)
		} else {
			renamed.AddColumn(c)
		}
	}
	t.Columns = renamed.Columns
	t.colIdx = renamed.colIdx
	for _, r := range t.Rows {
		for old, new_ := range mapping {
			if v, ok := r[old]; ok && old != new_ {
				r[new_] = v
				delete(r, old)
			}
		}
	}
}

// DropColumn removes a column and its values from every row.
func (t *Table) DropColumn(name string) {
	idx, ok := t.colIdx[name]
	if !ok {
		return
	}
	t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)
	delete(t.colIdx, name)
	for c, i := range t.colIdx {
		if i > idx {
			t.colIdx[c] = i - 1
		}
	}
	for _, r := range t.Rows {
		delete(r, name)
	}
}

// WriteTSV writes the table to path with a column-name header, any extra
// header rows (one cell per column) between the header and the data, and
// absent cells as empty strings. One writer pass per file.
func (t *Table) WriteTSV(path string, extraHeaders ...[]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'

	if err := w.Write(t.Columns); err != nil {
		return fmt.Errorf("Failed to write header to %s: %v", path, err)
	}
	for _, h := range extraHeaders {
		padded := make([]string, len(t.Columns))
		copy(padded, h)
		if err := w.Write(padded); err != nil {
			return fmt.Errorf("Failed to write header row to %s: %v", path, err)
		}
	}
	record := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for i, c := range t.Columns {
			record[i] = r[c]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("Failed to write row to %s: %v", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadTSV reads a table back from a TSV file, skipping skipRows data lines
// after the column-name header (the COG table carries label and code rows).
func ReadTSV(path string, skipRows int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("Failed to read header from %s: %v", path, err)
	}
	t := NewTable(header...)

	for i := 0; ; i++ {
		record, err := r.Read()
		if err != nil {
			break
		}
		if i < skipRows {
			continue
		}
		row := Row{}
		for j, v := range record {
			if j < len(header) {
				row[header[j]] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// cellString renders a parsed JSON value as a table cell. Lists join with
// ";" (the gene-content columns rely on this); objects fall back to their
// JSON encoding.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, cellString(e))
		}
		return strings.Join(parts, ";")
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
