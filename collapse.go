package mci_json2tsv

import (
	"strings"
)

const (
	checkedValue   = "checked"
	uncheckedValue = "unchecked"
)

// checkedColumns scans cell values and returns, in column order, every
// column holding a literal "checked" or "unchecked" in at least one row.
// Detection is values-driven: the export carries no schema marking
// checkbox fields.
func checkedColumns(t *Table) []string {
	var cols []string
	for _, c := range t.Columns {
		for _, r := range t.Rows {
			if v, ok := r[c]; ok && (v == checkedValue || v == uncheckedValue) {
				cols = append(cols, c)
				break
			}
		}
	}
	return cols
}

// checkboxGroup strips the trailing underscore-delimited option suffix,
// leaving the shared group prefix (COG checkbox options share a prefix and
// differ only in the suffix).
func checkboxGroup(column string) string {
	if i := strings.LastIndex(column, "_"); i > 0 {
		return column[:i]
	}
	return column
}

// DecodeCheckedFields rewrites checkbox columns: "checked" becomes the
// column's SASLabel and "unchecked" becomes empty. When collapse is true,
// the per-option columns of each checkbox group are additionally replaced
// by one group column holding the semicolon-joined labels of the checked
// options. The input table is not modified.
func DecodeCheckedFields(t *Table, labels *Table, collapse bool) *Table {
	labelFor := map[string]string{}
	for _, r := range labels.Rows {
		if _, ok := labelFor[r["column_name"]]; !ok {
			labelFor[r["column_name"]] = r["SASLabel"]
		}
	}

	checked := checkedColumns(t)
	isChecked := map[string]bool{}
	for _, c := range checked {
		isChecked[c] = true
	}

	// pass 1 computed the dynamic column set; pass 2 transforms
	decoded := substituteLabels(t, isChecked, labelFor)
	if !collapse {
		return decoded
	}

	groupOf := map[string]string{}
	members := map[string][]string{}
	for _, c := range checked {
		g := checkboxGroup(c)
		groupOf[c] = g
		members[g] = append(members[g], c)
	}

	out := NewTable()
	emitted := map[string]bool{}
	for _, c := range decoded.Columns {
		g, ok := groupOf[c]
		if !ok {
			out.AddColumn(c)
			continue
		}
		if !emitted[g] {
			emitted[g] = true
			out.AddColumn(g)
		}
	}

	for _, r := range decoded.Rows {
		nr := Row{}
		for _, c := range out.Columns {
			if mcols, ok := members[c]; ok {
				nr[c] = joinChecked(r, mcols)
			} else if v, ok := r[c]; ok {
				nr[c] = v
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

func substituteLabels(t *Table, isChecked map[string]bool, labelFor map[string]string) *Table {
	out := NewTable(t.Columns...)
	for _, r := range t.Rows {
		nr := Row{}
		for c, v := range r {
			if isChecked[c] {
				switch v {
				case checkedValue:
					if label, ok := labelFor[c]; ok && label != "" {
						nr[c] = label
					} else {
						nr[c] = c
					}
				case uncheckedValue:
					nr[c] = ""
				default:
					nr[c] = v
				}
			} else {
				nr[c] = v
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// joinChecked joins the distinct non-empty member values with ";",
// dropping stray delimiters from the members themselves.
func joinChecked(r Row, cols []string) string {
	var parts []string
	seen := map[string]bool{}
	for _, c := range cols {
		v := strings.Trim(r[c], ";")
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		parts = append(parts, v)
	}
	return strings.Join(parts, ";")
}
