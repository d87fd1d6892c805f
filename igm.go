package mci_json2tsv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// geneContentKey marks the one IGM field that is never flattened: its value
// is a gene list consumed whole by the results extractor and by the CNV
// tables, where it renders as a single ";"-joined cell.
const geneContentKey = "disease_associated_gene_content"

// FlatMap is the flattening accumulator: path -> value with stable
// first-set key order, threaded explicitly through the recursive descent.
type FlatMap struct {
	keys []string
	vals map[string]any
}

func NewFlatMap() *FlatMap {
	return &FlatMap{vals: map[string]any{}}
}

func (m *FlatMap) Set(key string, value any) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
}

func (m *FlatMap) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *FlatMap) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *FlatMap) Keys() []string { return m.keys }
func (m *FlatMap) Len() int       { return len(m.keys) }

// nullAndStrip normalizes scalar IGM values: nil becomes the empty string
// and strings are trimmed.
func nullAndStrip(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return v
	}
}

// joinKey extends a dotted path.
func joinKey(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// FlattenIGM un-nests an IGM document tree into flat. Objects extend the
// path with ".key", arrays with ".index"; an empty array records an empty
// string at its own path. Object keys are walked in sorted order so the
// same document always flattens to the same column sequence.
func FlattenIGM(node any, parentKey string, flat *FlatMap) {
	switch obj := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := obj[key]
			newKey := joinKey(parentKey, key)
			if key == geneContentKey {
				// opaque: stored verbatim, never recursed
				flat.Set(newKey, value)
				continue
			}
			switch value.(type) {
			case map[string]any, []any:
				FlattenIGM(value, newKey, flat)
			default:
				flat.Set(newKey, nullAndStrip(value))
				FlattenIGM(nullAndStrip(value), newKey, flat)
			}
		}
	case []any:
		if len(obj) == 0 {
			flat.Set(parentKey, "")
			return
		}
		for i, item := range obj {
			newKey := joinKey(parentKey, strconv.Itoa(i))
			switch item.(type) {
			case map[string]any, []any:
				FlattenIGM(item, newKey, flat)
			default:
				flat.Set(newKey, nullAndStrip(item))
				FlattenIGM(nullAndStrip(item), newKey, flat)
			}
		}
	default:
		// leaf reached via direct recursion: already recorded by the parent
	}
}

// loadIGMJSON reads a whole IGM document with the standard decoder
// (duplicate keys are not a property of the IGM export). Numbers decode as
// json.Number so report versions and percentages round-trip as written.
func loadIGMJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// IGMToTSV flattens every IGM file of one assay type into a single bulk
// table (one row per document) and, when resultsParse is set, extracts the
// per-section variant tables. Produced file paths are registered with reg
// for the integration stage.
func IGMToTSV(dirPath string, igmJSONs []string, assayType FileType, igmOut, timestamp string, resultsParse bool, reg IntegrationFiles) (*Table, int, int, error) {
	if !validAssayType(assayType) {
		return nil, 0, 0, fmt.Errorf("assay_type %s is not one of %v", assayType, AssayTypes)
	}

	bulk := NewTable()
	successCount := 0
	errorCount := 0

	for _, name := range igmJSONs {
		path := filepath.Join(dirPath, name)
		doc, err := loadIGMJSON(path)
		if err != nil {
			errorCount++
			log.Printf("Error converting IGM JSON to TSV for file %s: %v", path, err)
			continue
		}
		flat := NewFlatMap()
		FlattenIGM(doc, "", flat)

		row := Row{}
		for _, k := range flat.Keys() {
			v, _ := flat.Get(k)
			row[k] = cellString(v)
		}
		bulk.AppendRow(flat.Keys(), row)
		successCount++
	}

	if resultsParse {
		if err := igmResultsToTSV(dirPath, igmJSONs, assayType, igmOut, timestamp, reg); err != nil {
			return nil, successCount, errorCount, err
		}
	}

	if successCount == 0 {
		log.Printf("No valid IGM JSON files found and/or failed to open for assay_type %s.", assayType)
		return nil, successCount, errorCount, nil
	}

	bulkPath := filepath.Join(igmOut, fmt.Sprintf("IGM_%s_JSON_table_conversion_%s.tsv", assayName(assayType), timestamp))
	if err := bulk.WriteTSV(bulkPath); err != nil {
		return nil, successCount, errorCount, err
	}
	return bulk, successCount, errorCount, nil
}

func validAssayType(assayType FileType) bool {
	for _, a := range AssayTypes {
		if a == assayType {
			return true
		}
	}
	return false
}

// assayName strips the family prefix: igm.tumor_normal -> tumor_normal.
func assayName(assayType FileType) string {
	return strings.TrimPrefix(string(assayType), "igm.")
}

// igmResultsToTSV runs the results-section extraction over every file of
// one assay type, concatenates per-section output across files, and writes
// one long-format TSV per (assay type, section).
func igmResultsToTSV(dirPath string, igmJSONs []string, assayType FileType, igmOut, timestamp string, reg IntegrationFiles) error {
	dir := filepath.Join(igmOut, fmt.Sprintf("IGM_results_level_TSVs_%s", timestamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("Failed to create results-level output dir: %v", err)
	}

	sections := resultsSectionsFor(assayType)
	accum := map[string]*Table{}

	for _, name := range igmJSONs {
		path := filepath.Join(dirPath, name)
		doc, err := loadIGMJSON(path)
		if err != nil {
			log.Printf("Could not parse results section from file %s, please check and try again: %v", path, err)
			continue
		}
		parsed, err := ExtractResultsSections(doc, name, assayType, sections)
		if err != nil {
			log.Printf("Could not parse results section from file %s, please check and try again: %v", path, err)
			continue
		}
		for section, t := range parsed {
			if accum[section] == nil {
				accum[section] = NewTable()
			}
			accum[section].Extend(t)
		}
	}

	for _, section := range sections {
		t := accum[section]
		if t == nil {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("IGM_%s_%s_variant_data_%s.tsv", assayName(assayType), section, timestamp))
		if err := t.WriteTSV(path); err != nil {
			return err
		}
		if key, ok := integrationSourceKey(section); ok {
			reg.Register(key, path)
		}
	}
	return nil
}

// Extend appends another table's rows, merging its column order.
func (t *Table) Extend(other *Table) {
	for _, c := range other.Columns {
		t.AddColumn(c)
	}
	t.Rows = append(t.Rows, other.Rows...)
}
