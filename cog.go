package mci_json2tsv

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// maxFormCombinations bounds the per-participant cross-product expansion.
// Realistic COG exports stay in the tens of rows; anything past this is a
// malformed export and is counted as a failed record.
const maxFormCombinations = 10000

// cogIndexColumns are the common identifying fields replicated onto every
// expanded row, in output order.
var cogIndexColumns = []string{"upi", "index_date_type"}

// formFragment is one instance of one form, expanded to column/value pairs.
type formFragment struct {
	cols []string
	row  Row
}

// ReadCOGJSONs parses each COG file with the duplicate-key-preserving
// parser. A malformed file is one counted error; the batch continues.
func ReadCOGJSONs(dirPath string, files []string) ([]map[string]any, int, int) {
	var records []map[string]any
	successCount := 0
	errorCount := 0

	for _, name := range files {
		path := filepath.Join(dirPath, name)
		data, err := os.ReadFile(path)
		if err != nil {
			errorCount++
			log.Printf("Error reading %s: %v", name, err)
			continue
		}
		parsed, err := ParseDuplicatePreserving(data)
		if err != nil {
			errorCount++
			log.Printf("Error reading %s: %v", name, err)
			continue
		}
		record, ok := parsed.(map[string]any)
		if !ok {
			errorCount++
			log.Printf("Error reading %s: document root is not an object", name)
			continue
		}
		records = append(records, record)
		successCount++
	}
	if successCount == 0 {
		log.Printf("No valid COG JSON files found and/or failed to open.")
	}
	return records, successCount, errorCount
}

// ExpandCOGRecords turns parsed COG records into the flattened participant
// table plus the deduplicated (column_name, SASLabel, cde_id) reference
// table. Each participant contributes the cross-product of all its forms'
// instances; duplicate rows are removed across the whole result. Returns
// the number of participants skipped for exceeding the expansion bound.
func ExpandCOGRecords(records []map[string]any) (*Table, *Table, int) {
	expanded := NewTable(cogIndexColumns...)
	labels := NewTable("column_name", "SASLabel", "cde_id")
	skipped := 0

	for _, record := range records {
		upi := cellString(record["upi"])
		common := Row{
			"upi":             upi,
			"index_date_type": cellString(record["index_date_type"]),
		}

		forms, ok := record["forms"].([]any)
		if !ok {
			log.Printf("Skipping record for upi %s, no forms section to parse", upi)
			continue
		}

		// one fragment list per form; the cross-product of these lists
		// is the participant's row set
		var perForm [][]formFragment
		for _, f := range forms {
			form, ok := f.(map[string]any)
			if !ok {
				continue
			}
			formName := cellString(form["form_name"])
			instances, ok := normalizeFormData(form["data"])
			if !ok {
				log.Printf("Skipping data section(s) for upi %s form %s, not in valid format for parsing", upi, formName)
				continue
			}
			perForm = append(perForm, expandFormInstances(formName, instances, labels))
		}

		if len(perForm) == 0 {
			// zero valid forms: participant contributes zero rows
			continue
		}

		// check after every multiply so the running product can never
		// overflow past the bound
		combos := 1
		exceeded := false
		for _, frags := range perForm {
			combos *= len(frags)
			if combos > maxFormCombinations {
				exceeded = true
				break
			}
		}
		if exceeded {
			skipped++
			log.Printf("Skipping upi %s: form expansion exceeds limit of %d rows", upi, maxFormCombinations)
			continue
		}

		forEachCombination(perForm, func(combo []formFragment) {
			row := Row{}
			cols := append([]string{}, cogIndexColumns...)
			for k, v := range common {
				row[k] = v
			}
			for _, frag := range combo {
				cols = append(cols, frag.cols...)
				for k, v := range frag.row {
					row[k] = v
				}
			}
			expanded.AppendRow(cols, row)
		})
	}

	expanded.DropDuplicateRows()
	labels.DropDuplicateRows()
	return expanded, labels, skipped
}

// normalizeFormData coerces a form's data payload into a list of instances.
// A list of lists is taken as-is; a flat list of field dicts becomes a
// single-instance list; anything else is an invalid shape.
func normalizeFormData(data any) ([][]any, bool) {
	list, ok := data.([]any)
	if !ok {
		return nil, false
	}
	allLists := true
	for _, e := range list {
		if _, ok := e.([]any); !ok {
			allLists = false
			break
		}
	}
	if allLists {
		instances := make([][]any, 0, len(list))
		for _, e := range list {
			instances = append(instances, e.([]any))
		}
		return instances, true
	}
	return [][]any{list}, true
}

// expandFormInstances produces one fragment per form instance and records
// label-reference triples for every field with a non-empty identifier.
func expandFormInstances(formName string, instances [][]any, labels *Table) []formFragment {
	frags := make([]formFragment, 0, len(instances))
	for _, instance := range instances {
		frag := formFragment{row: Row{}}
		for _, f := range instance {
			field, ok := f.(map[string]any)
			if !ok {
				continue
			}
			fieldID := cellString(field["form_field_id"])
			if fieldID == "" {
				continue
			}
			column := formName + "." + fieldID
			frag.row[column] = cellString(field["value"])
			frag.cols = append(frag.cols, column)
			labels.Rows = append(labels.Rows, Row{
				"column_name": column,
				"SASLabel":    cellString(field["SASLabel"]),
				"cde_id":      cellString(field["cde_id"]),
			})
		}
		frags = append(frags, frag)
	}
	return frags
}

// forEachCombination walks the cartesian product of the fragment lists,
// odometer-style, invoking fn once per combination. Any empty list yields
// no combinations.
func forEachCombination(perForm [][]formFragment, fn func([]formFragment)) {
	for _, frags := range perForm {
		if len(frags) == 0 {
			return
		}
	}
	idx := make([]int, len(perForm))
	combo := make([]formFragment, len(perForm))
	for {
		for i, frags := range perForm {
			combo[i] = frags[idx[i]]
		}
		fn(combo)

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(perForm[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return
		}
	}
}

// CogToTSV reads, expands and writes the COG tables. The conversion TSV
// carries two extra header rows under the column names: the human-readable
// SASLabels and the CDE codes.
func CogToTSV(dirPath string, cogJSONs []string, cogOut, timestamp string) (*Table, *Table, int, int, error) {
	records, successCount, errorCount := ReadCOGJSONs(dirPath, cogJSONs)
	if successCount == 0 {
		return nil, nil, successCount, errorCount, nil
	}

	expanded, labels, skipped := ExpandCOGRecords(records)
	errorCount += skipped
	successCount -= skipped

	labelRow, codeRow := labelHeaderRows(expanded, labels)
	convPath := filepath.Join(cogOut, fmt.Sprintf("COG_JSON_table_conversion_%s.tsv", timestamp))
	if err := expanded.WriteTSV(convPath, labelRow, codeRow); err != nil {
		return nil, nil, successCount, errorCount, err
	}
	labelPath := filepath.Join(cogOut, fmt.Sprintf("COG_saslabels_%s.tsv", timestamp))
	if err := labels.WriteTSV(labelPath); err != nil {
		return nil, nil, successCount, errorCount, err
	}
	return expanded, labels, successCount, errorCount, nil
}

// labelHeaderRows aligns the SASLabel and cde_id reference values with the
// expanded table's column order.
func labelHeaderRows(expanded, labels *Table) ([]string, []string) {
	labelFor := map[string]string{}
	codeFor := map[string]string{}
	for _, r := range labels.Rows {
		col := r["column_name"]
		if _, ok := labelFor[col]; !ok {
			labelFor[col] = r["SASLabel"]
			codeFor[col] = r["cde_id"]
		}
	}
	labelRow := make([]string, len(expanded.Columns))
	codeRow := make([]string, len(expanded.Columns))
	for i, c := range expanded.Columns {
		labelRow[i] = labelFor[c]
		codeRow[i] = codeFor[c]
	}
	return labelRow, codeRow
}

// FormParser splits the expanded COG table into one TSV per form name,
// each carrying the index columns plus that form's columns.
func FormParser(expanded *Table, timestamp, cogOut string) error {
	if expanded.Empty() {
		return fmt.Errorf("No valid table found to parse into form-level TSVs")
	}

	dir := filepath.Join(cogOut, fmt.Sprintf("COG_form_level_TSVs_%s", timestamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("Failed to create form-level output dir: %v", err)
	}

	indexCols := expanded.Columns[:2]
	var forms []string
	seen := map[string]bool{}
	for _, c := range expanded.Columns {
		if i := strings.Index(c, "."); i > 0 {
			form := c[:i]
			if !seen[form] {
				seen[form] = true
				forms = append(forms, form)
			}
		}
	}

	for _, form := range forms {
		cols := append([]string{}, indexCols...)
		for _, c := range expanded.Columns {
			if strings.HasPrefix(c, form+".") {
				cols = append(cols, c)
			}
		}
		sub := expanded.Subset(cols)
		if err := sub.WriteTSV(filepath.Join(dir, form+".tsv")); err != nil {
			return err
		}
	}
	return nil
}
