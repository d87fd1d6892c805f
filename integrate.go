package mci_json2tsv

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	subjectIDLabel      = "Subject ID"
	diseaseGroupLabel   = "Disease Group"
	notReportedSentinel = "Not Reported"
	integratedSheetName = "COG IGM Integrated Results"

	cogSourceKey         = "COG"
	methylationSourceKey = "final_diagnosis"

	// the COG conversion TSV carries SASLabel and cde_id rows under the
	// column header
	cogHeaderSkipRows = 2
)

// IntegrationFiles registers the per-source tables produced during the run
// that feed the integration stage, keyed by mapping source name.
type IntegrationFiles map[string]string

func (f IntegrationFiles) Register(source, path string) { f[source] = path }

// integrationSourceKey maps a results-section name to its mapping source
// key. Sections with no mapping presence (tier-three, amended, pertinent
// negatives, classifier scores) are written to TSV but never integrated.
func integrationSourceKey(section string) (string, bool) {
	switch section {
	case "fusion_tier_one_or_two_result",
		"single_tier_one_or_two_result",
		"germline_cnv_results",
		"germline_results",
		"somatic_cnv_results",
		"somatic_results":
		return section, true
	case "results":
		// the methylation classifier's final diagnosis table
		return methylationSourceKey, true
	default:
		return "", false
	}
}

// sheetNames maps source keys to workbook sheet names. Both CNV sources
// share one sheet; the later write replaces the earlier.
var sheetNames = map[string]string{
	cogSourceKey:                    "COG",
	"fusion_tier_one_or_two_result": "IGM ArcherFusion",
	"single_tier_one_or_two_result": "IGM ArcherFusion IntraGene",
	"germline_cnv_results":          "IGM TmrNmrl CNV Variants",
	"germline_results":              "IGM TmrNmrl Germline Variants",
	"somatic_cnv_results":           "IGM TmrNmrl CNV Variants",
	"somatic_results":               "IGM TmrNmrl Somatic Variants",
	methylationSourceKey:            "IGM Methylation Classifier",
}

// Cohort is a disease-group-based partition of the integrated table.
type Cohort struct {
	Code          string
	Sheet         string
	DiseaseGroups []string
}

// Cohorts lists the MCI disease cohorts in sheet order. Methylation
// columns are kept only on the CNS sheet; the assay has no clinical
// relevance outside CNS cases.
var Cohorts = []Cohort{
	{Code: "CNS", Sheet: "CNS Cohort", DiseaseGroups: []string{"Neuro-Oncology", "CNS"}},
	{Code: "SARC", Sheet: "Sarcoma Cohort", DiseaseGroups: []string{"Soft Tissue Sarcoma", "Bone Sarcoma", "Sarcoma"}},
	{Code: "RARE", Sheet: "Rare Tumor Cohort", DiseaseGroups: []string{"Rare Tumor", "Rare Cancer"}},
}

const otherCohortSheet = "Other"

// MappingEntry is one row of the integration mapping table.
type MappingEntry struct {
	Source               string
	DataElement          string
	Label                string
	Order                int
	Substudy             string
	Modifier             string
	Type                 string
	IGMSheetOrder        int
	IntegratedSheetOrder int
}

// IntegrationMapping is the declarative source -> label configuration,
// loaded once per run and validated at load time.
type IntegrationMapping struct {
	Entries []MappingEntry
}

// LoadIntegrationMapping reads and validates the mapping TSV. A duplicate
// data_elements value within one source is a configuration error.
func LoadIntegrationMapping(path string) (*IntegrationMapping, error) {
	t, err := ReadTSV(path, 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to load integration mapping: %v", err)
	}
	for _, required := range []string{"source", "data_elements", "label"} {
		if !t.HasColumn(required) {
			return nil, fmt.Errorf("Integration mapping %s is missing required column %q", path, required)
		}
	}

	m := &IntegrationMapping{}
	seen := map[string]bool{}
	for _, r := range t.Rows {
		e := MappingEntry{
			Source:               r["source"],
			DataElement:          r["data_elements"],
			Label:                r["label"],
			Order:                atoiOrZero(r["order"]),
			Substudy:             r["substudy"],
			Modifier:             r["modifier"],
			Type:                 r["type"],
			IGMSheetOrder:        atoiOrZero(r["igm_sheet_order"]),
			IntegratedSheetOrder: atoiOrZero(r["integrated_sheet_order"]),
		}
		if e.Source == "" || e.DataElement == "" {
			continue
		}
		key := e.Source + "\x1f" + e.DataElement
		if seen[key] {
			return nil, fmt.Errorf("Integration mapping: data element %q duplicated for source %q", e.DataElement, e.Source)
		}
		seen[key] = true
		m.Entries = append(m.Entries, e)
	}
	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("Integration mapping %s has no usable rows", path)
	}
	return m, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func (m *IntegrationMapping) entriesFor(source string) []MappingEntry {
	var out []MappingEntry
	for _, e := range m.Entries {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// ElementsFor returns the declared data elements for a source, in mapping
// order.
func (m *IntegrationMapping) ElementsFor(source string) []string {
	var out []string
	for _, e := range m.entriesFor(source) {
		out = append(out, e.DataElement)
	}
	return out
}

// TransposeElements returns the source's elements marked modifier=transpose.
func (m *IntegrationMapping) TransposeElements(source string) []string {
	var out []string
	for _, e := range m.entriesFor(source) {
		if e.Modifier == "transpose" {
			out = append(out, e.DataElement)
		}
	}
	return out
}

// MultiFieldLabels returns labels declared for more than one data element
// of a source: concatenation targets.
func (m *IntegrationMapping) MultiFieldLabels(source string) map[string][]string {
	byLabel := map[string][]string{}
	for _, e := range m.entriesFor(source) {
		byLabel[e.Label] = append(byLabel[e.Label], e.DataElement)
	}
	for label, elements := range byLabel {
		if len(elements) < 2 {
			delete(byLabel, label)
		}
	}
	return byLabel
}

// RenameMap maps a source's single-element columns to their output labels.
func (m *IntegrationMapping) RenameMap(source string) map[string]string {
	multi := m.MultiFieldLabels(source)
	multiElement := map[string]bool{}
	for _, elements := range multi {
		for _, el := range elements {
			multiElement[el] = true
		}
	}
	out := map[string]string{}
	for _, e := range m.entriesFor(source) {
		if !multiElement[e.DataElement] {
			out[e.DataElement] = e.Label
		}
	}
	return out
}

// OrderedLabels returns the labels present in the merged table sorted by
// the mapping's order field, deduplicated.
func (m *IntegrationMapping) OrderedLabels(present func(string) bool) []string {
	type lo struct {
		label string
		order int
	}
	var candidates []lo
	seen := map[string]bool{}
	for _, e := range m.Entries {
		if !present(e.Label) || seen[e.Label] {
			continue
		}
		seen[e.Label] = true
		candidates = append(candidates, lo{e.Label, e.Order})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].order < candidates[j].order })
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.label)
	}
	return out
}

// SourceLabels returns every output label a source contributes.
func (m *IntegrationMapping) SourceLabels(source string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range m.entriesFor(source) {
		if !seen[e.Label] {
			seen[e.Label] = true
			out = append(out, e.Label)
		}
	}
	return out
}

// igmSheetOrder returns the declared per-source sheet position, defaulting
// high so unordered sources land last.
func (m *IntegrationMapping) igmSheetOrder(source string) int {
	order := 1 << 30
	for _, e := range m.entriesFor(source) {
		if e.IGMSheetOrder > 0 && e.IGMSheetOrder < order {
			order = e.IGMSheetOrder
		}
	}
	return order
}

// subjectKeyForSource names the pre-rename join column of a source.
func subjectKeyForSource(source string) string {
	if source == cogSourceKey {
		return "upi"
	}
	return "subject_id"
}

// collapseRowsToWide pivots long-format rows wide: one row per key value,
// aggCols joined with delimiter across the group, every other column taking
// its first value. Absent agg values carry the Not Reported sentinel, which
// is blanked again when it is all a cell ever held.
func collapseRowsToWide(t *Table, keyCol string, aggCols []string, delimiter string) *Table {
	isAgg := map[string]bool{}
	for _, c := range aggCols {
		isAgg[c] = true
	}

	out := NewTable(t.Columns...)
	groupIdx := map[string]int{}
	parts := map[string]map[string][]string{}

	for _, r := range t.Rows {
		key := r[keyCol]
		if _, ok := groupIdx[key]; !ok {
			groupIdx[key] = len(out.Rows)
			nr := Row{}
			for _, c := range t.Columns {
				if !isAgg[c] {
					if v, has := r[c]; has {
						nr[c] = v
					}
				}
			}
			out.Rows = append(out.Rows, nr)
			parts[key] = map[string][]string{}
		}
		for _, c := range aggCols {
			v := r[c]
			if v == "" {
				v = notReportedSentinel
			}
			parts[key][c] = append(parts[key][c], v)
		}
	}

	for key, idx := range groupIdx {
		for _, c := range aggCols {
			vals := parts[key][c]
			allSentinel := true
			for _, v := range vals {
				if v != notReportedSentinel {
					allSentinel = false
					break
				}
			}
			if allSentinel {
				out.Rows[idx][c] = ""
			} else {
				out.Rows[idx][c] = strings.Join(vals, delimiter)
			}
		}
	}
	return out
}

// concatMultiFieldLabels folds multiple data-element columns sharing one
// output label into a single column of that label, ";"-joined, dropping
// empty parts and the constituent columns.
func concatMultiFieldLabels(t *Table, multi map[string][]string) {
	labels := make([]string, 0, len(multi))
	for label := range multi {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		elements := multi[label]
		var present []string
		for _, el := range elements {
			if t.HasColumn(el) {
				present = append(present, el)
			}
		}
		if len(present) == 0 {
			continue
		}
		t.AddColumn(label)
		for _, r := range t.Rows {
			var vals []string
			for _, el := range present {
				v := strings.Trim(r[el], ";")
				if v != "" {
					vals = append(vals, v)
				}
			}
			r[label] = strings.Join(vals, ";")
		}
		for _, el := range present {
			t.DropColumn(el)
		}
	}
}

// transformSource applies the mapping to one per-source table: subset,
// transpose pivot, multi-field concatenation, rename. Returns false when
// the source contributes nothing (absent mapped columns in an IGM table,
// or no rows).
func transformSource(source string, t *Table, m *IntegrationMapping) (*Table, bool) {
	declared := m.ElementsFor(source)
	var missing, present []string
	for _, c := range declared {
		if t.HasColumn(c) {
			present = append(present, c)
		} else {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		if source != cogSourceKey {
			// an IGM section with no qualifying data for this run
			log.Printf("Not all columns specified in integration mapping found in %s table, skipping source.", source)
			return nil, false
		}
		log.Printf("Columns missing from COG table, proceeding without them: %s", strings.Join(missing, ", "))
	}
	if len(present) == 0 {
		return nil, false
	}

	sub := t.Subset(present)

	var transpose []string
	for _, el := range m.TransposeElements(source) {
		if sub.HasColumn(el) {
			transpose = append(transpose, el)
		}
	}
	if len(transpose) > 0 {
		sub = collapseRowsToWide(sub, subjectKeyForSource(source), transpose, ";")
	}

	concatMultiFieldLabels(sub, m.MultiFieldLabels(source))
	sub.Rename(m.RenameMap(source))

	if sub.Empty() {
		return nil, false
	}
	return sub, true
}

// outerJoin merges two tables on key: matching rows pair up (many-to-many),
// unmatched rows from either side survive with the other side's columns
// blank.
func outerJoin(left, right *Table, key string) *Table {
	out := NewTable(left.Columns...)
	for _, c := range right.Columns {
		out.AddColumn(c)
	}

	rightByKey := map[string][]Row{}
	for _, r := range right.Rows {
		rightByKey[r[key]] = append(rightByKey[r[key]], r)
	}

	matched := map[string]bool{}
	for _, lr := range left.Rows {
		k := lr[key]
		partners := rightByKey[k]
		if len(partners) == 0 {
			out.Rows = append(out.Rows, copyRow(lr))
			continue
		}
		matched[k] = true
		for _, rr := range partners {
			nr := copyRow(lr)
			for c, v := range rr {
				nr[c] = v
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	for _, rr := range right.Rows {
		if !matched[rr[key]] {
			out.Rows = append(out.Rows, copyRow(rr))
		}
	}
	return out
}

// IntegrateCOGIGM runs the cross-source integration: gate on both families
// having produced data, load each registered table back, apply the mapping,
// outer-join everything on the subject identifier and write the workbook
// with per-source, master, and per-cohort sheets. Returns the merged table
// and whether integration was performed. Per-source problems are logged
// skips, never errors.
func IntegrateCOGIGM(cogSuccessCount, igmSuccessCount int, files IntegrationFiles, mappingPath, outputPath, timestamp string) (*Table, bool, error) {
	log.Printf("Performing COG and IGM data integration ...")
	log.Printf("Files to check to integrate: %v", files)

	if cogSuccessCount == 0 || igmSuccessCount == 0 {
		if cogSuccessCount == 0 {
			log.Printf("No COG files data to integrate with IGM files")
		}
		if igmSuccessCount == 0 {
			log.Printf("No IGM files data to integrate with COG files")
		}
		return nil, false, nil
	}

	// verify registered files exist on disk; drop IGM entries that don't
	haveCOG := false
	haveIGM := false
	for source, path := range files {
		if path == "" {
			delete(files, source)
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Printf("Parsed file %s does not exist at path, will not be included for COG/IGM integration.", path)
			delete(files, source)
			continue
		}
		if source == cogSourceKey {
			haveCOG = true
		} else {
			haveIGM = true
		}
	}
	log.Printf("COG files found: %t, IGM files found: %t", haveCOG, haveIGM)
	if !haveCOG || !haveIGM {
		log.Printf("No COG and/or IGM files data to integrate.")
		return nil, false, nil
	}

	mapping, err := LoadIntegrationMapping(mappingPath)
	if err != nil {
		return nil, false, err
	}

	// COG first, then IGM sources in declared sheet order
	var igmSources []string
	for source := range files {
		if source != cogSourceKey {
			igmSources = append(igmSources, source)
		}
	}
	sort.Slice(igmSources, func(i, j int) bool {
		oi, oj := mapping.igmSheetOrder(igmSources[i]), mapping.igmSheetOrder(igmSources[j])
		if oi != oj {
			return oi < oj
		}
		return igmSources[i] < igmSources[j]
	})
	ordered := append([]string{cogSourceKey}, igmSources...)

	var tables []sourceTable
	for _, source := range ordered {
		skip := 0
		if source == cogSourceKey {
			skip = cogHeaderSkipRows
		}
		t, err := ReadTSV(files[source], skip)
		if err != nil {
			log.Printf("Failed to read %s table for integration, skipping: %v", source, err)
			continue
		}
		transformed, ok := transformSource(source, t, mapping)
		if !ok {
			continue
		}
		tables = append(tables, sourceTable{source, transformed})
	}
	if len(tables) == 0 {
		log.Printf("No source tables qualified for integration.")
		return nil, false, nil
	}

	log.Printf("Merging %d tables ...", len(tables))
	merged := tables[0].table
	for _, st := range tables[1:] {
		// duplicate shared columns come from the earlier table
		for _, c := range merged.Columns {
			if c != subjectIDLabel && st.table.HasColumn(c) {
				st.table.DropColumn(c)
			}
		}
		if !st.table.HasColumn(subjectIDLabel) {
			log.Printf("Source %s has no %s column after mapping, skipping merge.", st.source, subjectIDLabel)
			continue
		}
		merged = outerJoin(merged, st.table, subjectIDLabel)
	}
	merged.DropDuplicateRows()

	order := mapping.OrderedLabels(merged.HasColumn)
	merged = merged.Subset(order)

	sheets := buildSheets(tables, merged, mapping)
	workbookPath := filepath.Join(outputPath, fmt.Sprintf("COG_IGM_integrated_%s.xlsx", timestamp))
	if err := writeWorkbook(workbookPath, sheets); err != nil {
		return nil, false, err
	}
	log.Printf("Integration workbook written to %s", workbookPath)
	return merged, true, nil
}

type sourceTable struct {
	source string
	table  *Table
}

type sheetData struct {
	name  string
	table *Table
}

// buildSheets assembles the workbook contents in explicit final order:
// the master integrated sheet first, then the per-source sheets, then one
// sheet per cohort and the Other remainder. The original tool derived
// sheet order from repeated insert-at-front writes; here the order is
// decided, not incidental.
func buildSheets(tables []sourceTable, merged *Table, mapping *IntegrationMapping) []sheetData {
	var sheets []sheetData
	byName := map[string]int{}

	add := func(name string, t *Table) {
		if t.Empty() {
			log.Printf("Sheet %q not saved because table is empty.", name)
			return
		}
		if i, ok := byName[name]; ok {
			// replace semantics for sources sharing a sheet
			sheets[i].table = t
			return
		}
		byName[name] = len(sheets)
		sheets = append(sheets, sheetData{name, t})
	}

	add(integratedSheetName, merged)
	for _, st := range tables {
		name, ok := sheetNames[st.source]
		if !ok {
			name = st.source
		}
		add(name, st.table)
	}

	methylationLabels := mapping.SourceLabels(methylationSourceKey)
	assigned := map[int]bool{}
	for _, cohort := range Cohorts {
		sub := filterByDiseaseGroup(merged, cohort.DiseaseGroups, assigned)
		if cohort.Code != "CNS" {
			for _, label := range methylationLabels {
				sub.DropColumn(label)
			}
		}
		add(cohort.Sheet, sub)
	}
	other := NewTable(merged.Columns...)
	for i, r := range merged.Rows {
		if !assigned[i] {
			other.Rows = append(other.Rows, r)
		}
	}
	add(otherCohortSheet, other)

	return sheets
}

// filterByDiseaseGroup subsets merged rows whose disease-group value
// matches any of the given labels, recording matched row indexes.
func filterByDiseaseGroup(merged *Table, groups []string, assigned map[int]bool) *Table {
	want := map[string]bool{}
	for _, g := range groups {
		want[strings.ToLower(g)] = true
	}
	out := NewTable(merged.Columns...)
	for i, r := range merged.Rows {
		if want[strings.ToLower(strings.TrimSpace(r[diseaseGroupLabel]))] {
			assigned[i] = true
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// writeWorkbook writes the sheets to one xlsx file, in slice order. The
// workbook has exactly one writer pass.
func writeWorkbook(path string, sheets []sheetData) error {
	if len(sheets) == 0 {
		return fmt.Errorf("No sheets to write to %s", path)
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return fmt.Errorf("Failed to create sheet %q: %v", s.name, err)
			}
		} else {
			if _, err := f.NewSheet(s.name); err != nil {
				return fmt.Errorf("Failed to create sheet %q: %v", s.name, err)
			}
		}
		if err := writeSheet(f, s.name, s.table); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("Failed to save workbook %s: %v", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, t *Table) error {
	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("Failed to write header to sheet %q: %v", name, err)
	}
	for i, r := range t.Rows {
		cells := make([]interface{}, len(t.Columns))
		for j, c := range t.Columns {
			cells[j] = r[c]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &cells); err != nil {
			return fmt.Errorf("Failed to write row to sheet %q: %v", name, err)
		}
	}
	return nil
}
