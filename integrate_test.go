package mci_json2tsv

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

const mappingTSV = `source	data_elements	label	order	substudy	modifier	type	igm_sheet_order	integrated_sheet_order
COG	upi	Subject ID	1				0	1
COG	DEMOGRAPHY.DM_SEX	Sex	3				0	1
somatic_results	subject_id	Subject ID	1				1	1
somatic_results	disease_group	Disease Group	2				1	1
somatic_results	gene	Somatic Gene	4		transpose		1	1
`

func loadTestMapping(t *testing.T) *IntegrationMapping {
	t.Helper()
	dir := t.TempDir()
	path := writeTestFile(t, dir, "mapping.tsv", mappingTSV)
	m, err := LoadIntegrationMapping(path)
	if err != nil {
		t.Fatalf("cannot load mapping: %v", err)
	}
	return m
}

func TestLoadIntegrationMapping(t *testing.T) {

	t.Run("valid mapping loads", func(t *testing.T) {
		m := loadTestMapping(t)
		if got := len(m.Entries); got != 5 {
			t.Fatalf("got %d entries want 5", got)
		}
		want := []string{"upi", "DEMOGRAPHY.DM_SEX"}
		if got := m.ElementsFor("COG"); !reflect.DeepEqual(got, want) {
			t.Errorf("COG elements: got %v want %v", got, want)
		}
		if got := m.TransposeElements("somatic_results"); !reflect.DeepEqual(got, []string{"gene"}) {
			t.Errorf("transpose elements: got %v", got)
		}
	})

	t.Run("duplicate data element per source is an error", func(t *testing.T) {
		dir := t.TempDir()
		path := writeTestFile(t, dir, "dup.tsv",
			"source\tdata_elements\tlabel\nCOG\tupi\tSubject ID\nCOG\tupi\tDuplicate\n")
		if _, err := LoadIntegrationMapping(path); err == nil {
			t.Error("expected an error, got nil")
		}
	})

	t.Run("missing required column is an error", func(t *testing.T) {
		dir := t.TempDir()
		path := writeTestFile(t, dir, "nolabel.tsv", "source\tdata_elements\nCOG\tupi\n")
		if _, err := LoadIntegrationMapping(path); err == nil {
			t.Error("expected an error, got nil")
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := LoadIntegrationMapping("/no/such/mapping.tsv"); err == nil {
			t.Error("expected an error, got nil")
		}
	})
}

func TestIntegrationSourceKey(t *testing.T) {
	tests := []struct {
		section string
		want    string
		ok      bool
	}{
		{"somatic_results", "somatic_results", true},
		{"germline_cnv_results", "germline_cnv_results", true},
		{"results", "final_diagnosis", true},
		{"pertinent_negatives_results", "", false},
		{"fusion_tier_three_result", "", false},
		{"predicted_classification_classifier_scores", "", false},
	}
	for _, tc := range tests {
		got, ok := integrationSourceKey(tc.section)
		if got != tc.want || ok != tc.ok {
			t.Errorf("integrationSourceKey(%q): got (%q, %t) want (%q, %t)", tc.section, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCollapseRowsToWide(t *testing.T) {
	tbl := NewTable("subject_id", "disease_group", "gene")
	tbl.Rows = []Row{
		{"subject_id": "SUBJ2", "disease_group": "Neuro-Oncology", "gene": "TP53"},
		{"subject_id": "SUBJ2", "disease_group": "Neuro-Oncology", "gene": "ALK"},
		{"subject_id": "SUBJ3", "disease_group": "Sarcoma", "gene": ""},
		{"subject_id": "SUBJ4", "disease_group": "Sarcoma", "gene": ""},
		{"subject_id": "SUBJ4", "disease_group": "Sarcoma", "gene": "KIT"},
	}
	wide := collapseRowsToWide(tbl, "subject_id", []string{"gene"}, ";")

	if got := len(wide.Rows); got != 3 {
		t.Fatalf("got %d rows want 3", got)
	}
	byID := map[string]Row{}
	for _, r := range wide.Rows {
		byID[r["subject_id"]] = r
	}
	if got := byID["SUBJ2"]["gene"]; got != "TP53;ALK" {
		t.Errorf("SUBJ2: got %q want %q", got, "TP53;ALK")
	}
	// every value sentinel: the cell blanks out entirely
	if got := byID["SUBJ3"]["gene"]; got != "" {
		t.Errorf("SUBJ3: got %q want empty", got)
	}
	// a mix of absent and real values keeps the sentinel visible
	if got := byID["SUBJ4"]["gene"]; got != "Not Reported;KIT" {
		t.Errorf("SUBJ4: got %q want %q", got, "Not Reported;KIT")
	}
	if got := byID["SUBJ2"]["disease_group"]; got != "Neuro-Oncology" {
		t.Errorf("non-agg column: got %q want %q", got, "Neuro-Oncology")
	}
}

func TestConcatMultiFieldLabels(t *testing.T) {
	tbl := NewTable("subject_id", "therapy_1", "therapy_2", "other")
	tbl.Rows = []Row{
		{"subject_id": "SUBJ1", "therapy_1": "Surgery", "therapy_2": "Radiation", "other": "x"},
		{"subject_id": "SUBJ2", "therapy_1": "", "therapy_2": "Chemo", "other": "y"},
	}
	concatMultiFieldLabels(tbl, map[string][]string{"Therapy": {"therapy_1", "therapy_2"}})

	if tbl.HasColumn("therapy_1") || tbl.HasColumn("therapy_2") {
		t.Error("constituent columns not dropped")
	}
	if !tbl.HasColumn("Therapy") {
		t.Fatal("combined column missing")
	}
	if got := tbl.Rows[0]["Therapy"]; got != "Surgery;Radiation" {
		t.Errorf("got %q want %q", got, "Surgery;Radiation")
	}
	if got := tbl.Rows[1]["Therapy"]; got != "Chemo" {
		t.Errorf("empty part not dropped: got %q", got)
	}
}

func TestOuterJoin(t *testing.T) {
	left := NewTable("Subject ID", "Sex")
	left.Rows = []Row{
		{"Subject ID": "SUBJ1", "Sex": "Male"},
		{"Subject ID": "SUBJ2", "Sex": "Female"},
	}
	right := NewTable("Subject ID", "Gene")
	right.Rows = []Row{
		{"Subject ID": "SUBJ2", "Gene": "TP53"},
		{"Subject ID": "SUBJ3", "Gene": "ALK"},
	}

	merged := outerJoin(left, right, "Subject ID")
	if want := []string{"Subject ID", "Sex", "Gene"}; !reflect.DeepEqual(merged.Columns, want) {
		t.Fatalf("columns: got %v want %v", merged.Columns, want)
	}
	if got := len(merged.Rows); got != 3 {
		t.Fatalf("got %d rows want 3", got)
	}
	byID := map[string]Row{}
	for _, r := range merged.Rows {
		byID[r["Subject ID"]] = r
	}
	if got := byID["SUBJ1"]["Gene"]; got != "" {
		t.Errorf("left-only row: got %q want empty", got)
	}
	if got := byID["SUBJ2"]["Gene"]; got != "TP53" {
		t.Errorf("matched row: got %q want %q", got, "TP53")
	}
	if got := byID["SUBJ3"]["Sex"]; got != "" {
		t.Errorf("right-only row: got %q want empty", got)
	}
}

func TestTransformSource(t *testing.T) {
	m := loadTestMapping(t)

	t.Run("IGM source missing a mapped column is skipped", func(t *testing.T) {
		tbl := NewTable("subject_id", "gene")
		tbl.Rows = []Row{{"subject_id": "SUBJ2", "gene": "TP53"}}
		if _, ok := transformSource("somatic_results", tbl, m); ok {
			t.Error("expected skip, got table")
		}
	})

	t.Run("COG proceeds without missing columns", func(t *testing.T) {
		tbl := NewTable("upi")
		tbl.Rows = []Row{{"upi": "SUBJ1"}}
		out, ok := transformSource("COG", tbl, m)
		if !ok {
			t.Fatal("expected table, got skip")
		}
		if want := []string{"Subject ID"}; !reflect.DeepEqual(out.Columns, want) {
			t.Errorf("columns: got %v want %v", out.Columns, want)
		}
	})

	t.Run("transpose and rename applied", func(t *testing.T) {
		tbl := NewTable("subject_id", "disease_group", "gene")
		tbl.Rows = []Row{
			{"subject_id": "SUBJ2", "disease_group": "Neuro-Oncology", "gene": "TP53"},
			{"subject_id": "SUBJ2", "disease_group": "Neuro-Oncology", "gene": "ALK"},
		}
		out, ok := transformSource("somatic_results", tbl, m)
		if !ok {
			t.Fatal("expected table, got skip")
		}
		if got := len(out.Rows); got != 1 {
			t.Fatalf("got %d rows want 1", got)
		}
		r := out.Rows[0]
		if got := r["Subject ID"]; got != "SUBJ2" {
			t.Errorf("Subject ID: got %q want %q", got, "SUBJ2")
		}
		if got := r["Somatic Gene"]; got != "TP53;ALK" {
			t.Errorf("Somatic Gene: got %q want %q", got, "TP53;ALK")
		}
	})
}

func TestIntegrateCOGIGM(t *testing.T) {
	timestamp := "20260101_000000"

	setup := func(t *testing.T) (IntegrationFiles, string, string) {
		t.Helper()
		dir := t.TempDir()

		cog := NewTable("upi", "DEMOGRAPHY.DM_SEX")
		cog.Rows = []Row{
			{"upi": "SUBJ1", "DEMOGRAPHY.DM_SEX": "Male"},
			{"upi": "SUBJ2", "DEMOGRAPHY.DM_SEX": "Female"},
		}
		cogPath := filepath.Join(dir, "cog.tsv")
		labels := []string{"", "Sex"}
		codes := []string{"", "6343385"}
		if err := cog.WriteTSV(cogPath, labels, codes); err != nil {
			t.Fatalf("cannot write COG table: %v", err)
		}

		igm := NewTable("subject_id", "disease_group", "gene")
		igm.Rows = []Row{
			{"subject_id": "SUBJ2", "disease_group": "Neuro-Oncology", "gene": "TP53"},
			{"subject_id": "SUBJ2", "disease_group": "Neuro-Oncology", "gene": "ALK"},
			{"subject_id": "SUBJ3", "disease_group": "Sarcoma", "gene": "KIT"},
		}
		igmPath := filepath.Join(dir, "somatic.tsv")
		if err := igm.WriteTSV(igmPath); err != nil {
			t.Fatalf("cannot write IGM table: %v", err)
		}

		mappingPath := writeTestFile(t, dir, "mapping.tsv", mappingTSV)

		files := IntegrationFiles{}
		files.Register("COG", cogPath)
		files.Register("somatic_results", igmPath)
		return files, mappingPath, dir
	}

	t.Run("merges sources and writes the workbook", func(t *testing.T) {
		files, mappingPath, dir := setup(t)

		merged, integrated, err := IntegrateCOGIGM(2, 2, files, mappingPath, dir, timestamp)
		if err != nil {
			t.Fatalf("cannot integrate: %v", err)
		}
		if !integrated {
			t.Fatal("expected integration to run")
		}

		wantCols := []string{"Subject ID", "Disease Group", "Sex", "Somatic Gene"}
		if !reflect.DeepEqual(merged.Columns, wantCols) {
			t.Fatalf("columns: got %v want %v", merged.Columns, wantCols)
		}
		if got := len(merged.Rows); got != 3 {
			t.Fatalf("got %d rows want 3", got)
		}
		byID := map[string]Row{}
		for _, r := range merged.Rows {
			byID[r["Subject ID"]] = r
		}
		if got := byID["SUBJ1"]["Somatic Gene"]; got != "" {
			t.Errorf("COG-only subject: got %q want empty", got)
		}
		if got := byID["SUBJ2"]["Somatic Gene"]; got != "TP53;ALK" {
			t.Errorf("transposed genes: got %q want %q", got, "TP53;ALK")
		}
		if got := byID["SUBJ3"]["Sex"]; got != "" {
			t.Errorf("IGM-only subject: got %q want empty", got)
		}

		wb, err := excelize.OpenFile(filepath.Join(dir, "COG_IGM_integrated_"+timestamp+".xlsx"))
		if err != nil {
			t.Fatalf("cannot open workbook: %v", err)
		}
		defer wb.Close()

		wantSheets := []string{
			"COG IGM Integrated Results",
			"COG",
			"IGM TmrNmrl Somatic Variants",
			"CNS Cohort",
			"Sarcoma Cohort",
			"Other",
		}
		if got := wb.GetSheetList(); !reflect.DeepEqual(got, wantSheets) {
			t.Errorf("sheets: got %v want %v", got, wantSheets)
		}

		rows, err := wb.GetRows("COG IGM Integrated Results")
		if err != nil {
			t.Fatalf("cannot read master sheet: %v", err)
		}
		if got := len(rows); got != 4 {
			t.Fatalf("master sheet: got %d rows want 4", got)
		}
		if !reflect.DeepEqual(rows[0], wantCols) {
			t.Errorf("master header: got %v want %v", rows[0], wantCols)
		}

		cns, err := wb.GetRows("CNS Cohort")
		if err != nil {
			t.Fatalf("cannot read CNS sheet: %v", err)
		}
		// header plus the one Neuro-Oncology subject
		if got := len(cns); got != 2 {
			t.Errorf("CNS sheet: got %d rows want 2", got)
		}
	})

	t.Run("no COG data skips integration", func(t *testing.T) {
		files, mappingPath, dir := setup(t)
		_, integrated, err := IntegrateCOGIGM(0, 2, files, mappingPath, dir, timestamp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if integrated {
			t.Error("expected integration to be skipped")
		}
	})

	t.Run("no IGM data skips integration", func(t *testing.T) {
		files, mappingPath, dir := setup(t)
		_, integrated, err := IntegrateCOGIGM(2, 0, files, mappingPath, dir, timestamp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if integrated {
			t.Error("expected integration to be skipped")
		}
	})

	t.Run("registered file missing on disk skips integration", func(t *testing.T) {
		files, mappingPath, dir := setup(t)
		files.Register("somatic_results", filepath.Join(dir, "gone.tsv"))
		_, integrated, err := IntegrateCOGIGM(2, 2, files, mappingPath, dir, timestamp)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if integrated {
			t.Error("expected integration to be skipped")
		}
	})

	t.Run("bad mapping is an error", func(t *testing.T) {
		files, _, dir := setup(t)
		badMapping := writeTestFile(t, dir, "bad_mapping.tsv",
			"source\tdata_elements\tlabel\nCOG\tupi\tSubject ID\nCOG\tupi\tDuplicate\n")
		if _, _, err := IntegrateCOGIGM(2, 2, files, badMapping, dir, timestamp); err == nil {
			t.Error("expected an error, got nil")
		}
	})
}
