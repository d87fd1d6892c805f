package mci_json2tsv

// CogRecordJSON is a minimal COG participant export: two forms, one with a
// repeated "data" key (two instances of the follow-up form).
var CogRecordJSON = `
{
  "upi": "SUBJ1",
  "version": "1.0.3.0",
  "index_date_type": "date_of_enrollment",
  "forms": [
    {
      "form_name": "DEMOGRAPHY",
      "form_id": "DEMOGRAPHY",
      "data": [
        {
          "form_field_id": "DM_SEX",
          "SASLabel": "Sex",
          "cde_id": 6343385,
          "value": "Male"
        },
        {
          "form_field_id": "SC_SCORRES_CNTRYRES",
          "SASLabel": "Country of Residence",
          "cde_id": 2006183,
          "value": "USA"
        }
      ]
    },
    {
      "form_name": "FOLLOW_UP",
      "form_id": "FOLLOW_UP",
      "data": [
        {
          "form_field_id": "FU_STATUS",
          "SASLabel": "Follow-Up Status",
          "cde_id": 1111111,
          "value": "Alive"
        }
      ],
      "data": [
        {
          "form_field_id": "FU_STATUS",
          "SASLabel": "Follow-Up Status",
          "cde_id": 1111111,
          "value": "Deceased"
        }
      ]
    }
  ]
}
`

// IGMTumorNormalJSON is a minimal tumor-normal report with one somatic
// variant, one CNV result carrying a gene list, and no germline section.
var IGMTumorNormalJSON = `
{
  "version": "1.2",
  "subject_id": "SUBJ2",
  "report_type": "tumor_normal",
  "title": "Tumor Normal Report",
  "service": "WXS",
  "report_version": 2,
  "disease_group": "Neuro-Oncology",
  "percent_tumor": "60%",
  "percent_necrosis": "5%",
  "indication_for_study": "Diagnosis",
  "amendments": "",
  "somatic_results": {
    "variants": [
      {
        "variant_id": "VAR1",
        "gene": "TP53",
        "tier": "1A",
        "details": {
          "chromosome": "17",
          "position": 7674220
        }
      }
    ]
  },
  "somatic_cnv_results": {
    "variants": [
      {
        "variant_id": "CNV1",
        "copy_number": 7,
        "disease_associated_gene_content": ["MYCN", "ALK", "ATRX"]
      }
    ]
  }
}
`
