package mci_json2tsv

import (
	"bytes"
	"encoding/json"
	"testing"
)

func parseIGMFixture(t *testing.T, doc string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("cannot parse fixture: %v", err)
	}
	return out
}

func TestExtractResultsSections(t *testing.T) {
	doc := parseIGMFixture(t, IGMTumorNormalJSON)
	sections := resultsSectionsFor(FileTypeTumorNormal)

	parsed, err := ExtractResultsSections(doc, "tn.json", FileTypeTumorNormal, sections)
	if err != nil {
		t.Fatalf("cannot extract: %v", err)
	}

	t.Run("every candidate section yields a table", func(t *testing.T) {
		for _, section := range sections {
			if parsed[section] == nil {
				t.Errorf("section %s missing from output", section)
			}
		}
	})

	t.Run("variant rows carry core fields and flattened variant data", func(t *testing.T) {
		somatic := parsed["somatic_results"]
		if got := len(somatic.Rows); got != 1 {
			t.Fatalf("got %d rows want 1", got)
		}
		r := somatic.Rows[0]
		if got := r["form_name"]; got != "tn.json" {
			t.Errorf("form_name: got %q want %q", got, "tn.json")
		}
		if got := r["subject_id"]; got != "SUBJ2" {
			t.Errorf("subject_id: got %q want %q", got, "SUBJ2")
		}
		if got := r["disease_group"]; got != "Neuro-Oncology" {
			t.Errorf("disease_group: got %q want %q", got, "Neuro-Oncology")
		}
		if got := r["gene"]; got != "TP53" {
			t.Errorf("gene: got %q want %q", got, "TP53")
		}
		if got := r["details.position"]; got != "7674220" {
			t.Errorf("details.position: got %q want %q", got, "7674220")
		}
	})

	t.Run("CNV gene list stays in one row", func(t *testing.T) {
		cnv := parsed["somatic_cnv_results"]
		if got := len(cnv.Rows); got != 1 {
			t.Fatalf("got %d rows want 1, gene list must not explode per gene", got)
		}
		if got := cnv.Rows[0]["disease_associated_gene_content"]; got != "MYCN;ALK;ATRX" {
			t.Errorf("gene content: got %q want %q", got, "MYCN;ALK;ATRX")
		}
	})

	t.Run("absent section yields a core-fields placeholder row", func(t *testing.T) {
		germline := parsed["germline_results"]
		if got := len(germline.Rows); got != 1 {
			t.Fatalf("got %d rows want 1", got)
		}
		r := germline.Rows[0]
		if got := r["subject_id"]; got != "SUBJ2" {
			t.Errorf("subject_id: got %q want %q", got, "SUBJ2")
		}
		if _, ok := r["gene"]; ok {
			t.Error("placeholder row carries variant data")
		}
	})

	t.Run("empty variants list also yields a placeholder", func(t *testing.T) {
		empty := parseIGMFixture(t, `{
		  "subject_id": "SUBJ9",
		  "report_type": "tumor_normal",
		  "somatic_results": {"variants": []}
		}`)
		got, err := ExtractResultsSections(empty, "empty.json", FileTypeTumorNormal, []string{"somatic_results"})
		if err != nil {
			t.Fatalf("cannot extract: %v", err)
		}
		if n := len(got["somatic_results"].Rows); n != 1 {
			t.Errorf("got %d rows want 1", n)
		}
	})

	t.Run("methylation results are flat dict lists", func(t *testing.T) {
		meth := parseIGMFixture(t, `{
		  "subject_id": "SUBJ10",
		  "report_type": "methylation",
		  "results": [
		    {"classification": "Medulloblastoma, <i>SHH</i>", "score": 0.97},
		    {"classification": "Control tissue", "score": 0.01}
		  ]
		}`)
		got, err := ExtractResultsSections(meth, "meth.json", FileTypeMethylation, resultsSectionsFor(FileTypeMethylation))
		if err != nil {
			t.Fatalf("cannot extract: %v", err)
		}
		results := got["results"]
		if n := len(results.Rows); n != 2 {
			t.Fatalf("got %d rows want 2", n)
		}
		if v := results.Rows[0]["classification"]; v != "Medulloblastoma, SHH" {
			t.Errorf("markup not cleaned: got %q", v)
		}
		if v := results.Rows[0]["score"]; v != "0.97" {
			t.Errorf("score: got %q want %q", v, "0.97")
		}
	})

	t.Run("invalid assay type is an error", func(t *testing.T) {
		if _, err := ExtractResultsSections(doc, "tn.json", FileTypeCOG, nil); err == nil {
			t.Error("expected an error, got nil")
		}
	})
}

func TestResultsSectionsFor(t *testing.T) {
	if got := len(resultsSectionsFor(FileTypeTumorNormal)); got != 8 {
		t.Errorf("tumor normal: got %d sections want 8", got)
	}
	if got := len(resultsSectionsFor(FileTypeArcherFusion)); got != 4 {
		t.Errorf("archer: got %d sections want 4", got)
	}
	if got := len(resultsSectionsFor(FileTypeMethylation)); got != 2 {
		t.Errorf("methylation: got %d sections want 2", got)
	}
	if got := resultsSectionsFor(FileTypeCOG); got != nil {
		t.Errorf("cog: got %v want nil", got)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text passes through", "TP53 p.R175H", "TP53 p.R175H"},
		{"smart quotes to ASCII", "the “driver” variant", `the "driver" variant`},
		{"dashes to hyphen", "exon 2–5 — deleted", "exon 2-5 - deleted"},
		{"markup tags dropped", "<i>MYCN</i> amplification", "MYCN amplification"},
		{"non-ASCII stripped", "café variant", "caf variant"},
		{"whitespace collapsed", "  a \t b\n\nc ", "a b c"},
		{"ellipsis expanded", "pending…", "pending..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.in); got != tc.want {
				t.Errorf("got %q want %q", got, tc.want)
			}
		})
	}
}
