package mci_json2tsv

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CoreFields are the identifying report fields replicated onto every
// extracted results row, in output order.
var CoreFields = []string{
	"version",
	"subject_id",
	"report_type",
	"title",
	"service",
	"report_version",
	"disease_group",
	"percent_tumor",
	"percent_necrosis",
	"indication_for_study",
	"amendments",
}

// resultsSectionsFor lists the candidate results/variants sections for one
// assay type.
func resultsSectionsFor(assayType FileType) []string {
	switch assayType {
	case FileTypeMethylation:
		return []string{"predicted_classification_classifier_scores", "results"}
	case FileTypeArcherFusion:
		return []string{
			"fusion_tier_one_or_two_result",
			"fusion_tier_three_result",
			"single_tier_one_or_two_result",
			"single_tier_three_result",
		}
	case FileTypeTumorNormal:
		return []string{
			"amended_germline_results",
			"amended_somatic_cnv_results",
			"amended_somatic_results",
			"germline_cnv_results",
			"germline_results",
			"pertinent_negatives_results",
			"somatic_cnv_results",
			"somatic_results",
		}
	default:
		return nil
	}
}

// ExtractResultsSections pulls each candidate section of one IGM document
// into a long-format table: one row per result item, core fields plus the
// source filename replicated onto every row. A document lacking a section
// (or holding an empty one) still yields exactly one placeholder row of
// core fields, so downstream joins can tell "no variant found" from "file
// not processed". CNV gene lists stay in one row; the gene-content column
// carries the whole ";"-joined list.
func ExtractResultsSections(doc map[string]any, formName string, assayType FileType, sections []string) (map[string]*Table, error) {
	if !validAssayType(assayType) {
		return nil, fmt.Errorf("assay_type %s is not one of %v", assayType, AssayTypes)
	}
	if doc == nil {
		return nil, fmt.Errorf("form is not an object")
	}

	coreCols := append([]string{"form_name"}, CoreFields...)
	coreRow := Row{"form_name": formName}
	for _, f := range CoreFields {
		coreRow[f] = CleanText(cellString(nullAndStrip(doc[f])))
	}

	out := map[string]*Table{}
	for _, section := range sections {
		t := NewTable(coreCols...)
		found := false

		if raw, ok := doc[section]; ok {
			if assayType == FileTypeMethylation {
				found = extractMethylationSection(raw, coreCols, coreRow, t)
			} else {
				found = extractVariantsSection(raw, coreCols, coreRow, t)
			}
		}

		if !found {
			// placeholder: core fields only
			t.Rows = append(t.Rows, copyRow(coreRow))
		}
		out[section] = t
	}
	return out, nil
}

// extractMethylationSection handles the flat methylation result lists: one
// dict per result, no nested variants wrapper.
func extractMethylationSection(raw any, coreCols []string, coreRow Row, t *Table) bool {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return false
	}
	for _, item := range list {
		result, ok := item.(map[string]any)
		if !ok {
			continue
		}
		keys := make([]string, 0, len(result))
		for k := range result {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		row := copyRow(coreRow)
		cols := append([]string{}, coreCols...)
		for _, k := range keys {
			row[k] = CleanText(cellString(nullAndStrip(result[k])))
			cols = append(cols, k)
		}
		t.AppendRow(cols, row)
	}
	return len(t.Rows) > 0
}

// extractVariantsSection handles the archer-fusion and tumor-normal shape:
// a section object wrapping a "variants" list. Each variant is flattened;
// the gene-content field stays opaque so a CNV result with N genes emits
// one row, not N.
func extractVariantsSection(raw any, coreCols []string, coreRow Row, t *Table) bool {
	section, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	variants, ok := section["variants"].([]any)
	if !ok || len(variants) == 0 {
		return false
	}
	for _, v := range variants {
		flat := NewFlatMap()
		FlattenIGM(v, "", flat)

		row := copyRow(coreRow)
		cols := append([]string{}, coreCols...)
		for _, k := range flat.Keys() {
			value, _ := flat.Get(k)
			row[k] = CleanText(cellString(value))
			cols = append(cols, k)
		}
		t.AppendRow(cols, row)
	}
	return len(t.Rows) > 0
}

func copyRow(r Row) Row {
	nr := make(Row, len(r))
	for k, v := range r {
		nr[k] = v
	}
	return nr
}

var (
	markupTagRe  = regexp.MustCompile(`<[^<>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// smart punctuation seen in IGM free-text fields, normalized to ASCII
	punctReplacer = strings.NewReplacer(
		"‘", "'", "’", "'", "“", `"`, "”", `"`,
		"–", "-", "—", "-", "…", "...", " ", " ",
	)
)

// CleanText scrubs encoding artifacts from free-text report fields: smart
// quotes and dashes become ASCII, embedded markup tags are dropped, any
// remaining non-ASCII bytes are stripped, and runs of whitespace collapse
// to one space.
func CleanText(s string) string {
	s = punctReplacer.Replace(s)
	s = markupTagRe.ReplaceAllString(s, "")
	var b strings.Builder
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	s = whitespaceRe.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(s)
}
