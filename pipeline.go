package mci_json2tsv

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	runLogName = "JSON2TSV.log"

	classifyStageMsg  = "Classifying input JSON files"
	cogStageMsg       = "Transforming COG JSON files"
	igmStageMsg       = "Transforming IGM JSON files"
	integrateStageMsg = "Integrating COG and IGM tables"
	publishStageMsg   = "Publishing integrated table to the warehouse"
	uploadStageMsg    = "Uploading run artifacts to S3"
	RunIDKey          = "Run ID"
)

// RunSummary is the end-of-run report surfaced on the console, in Slack
// and on the run span.
type RunSummary struct {
	RunID      string
	Timestamp  string
	COGSuccess int
	COGErrors  int
	IGMSuccess int
	IGMErrors  int
	Integrated bool
	Duration   time.Duration
}

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\t>>> Time to Completion: %s\n", s.Duration)
	fmt.Fprintf(&b, "\t>>> # COG JSON Files Successfully Transformed: %d\n", s.COGSuccess)
	fmt.Fprintf(&b, "\t>>> # COG JSON Files NOT Transformed (Errors): %d\n", s.COGErrors)
	fmt.Fprintf(&b, "\t>>> # IGM JSON Files Successfully Transformed: %d\n", s.IGMSuccess)
	fmt.Fprintf(&b, "\t>>> # IGM JSON Files NOT Transformed (Errors): %d\n", s.IGMErrors)
	fmt.Fprintf(&b, "\t>>> COG/IGM Integration Performed: %t", s.Integrated)
	return b.String()
}

// Pipeline wires the transform stages to their optional collaborators.
// The zero collaborators are skipped; only classifier is required.
type Pipeline struct {
	classifier Classifier
	s3Service  *AWSS3Service
	warehouse  *DatabricksService
	slackURL   string
}

func NewPipeline(classifier Classifier, s3Service *AWSS3Service, warehouse *DatabricksService, slackURL string) *Pipeline {
	return &Pipeline{classifier: classifier, s3Service: s3Service, warehouse: warehouse, slackURL: slackURL}
}

// refreshDate returns the current date-time in the run-timestamp format.
func refreshDate() string {
	return time.Now().Format("20060102_150405")
}

// Run executes the whole batch: classify, transform per family, integrate,
// then the optional publish/upload/notify steps. Per-file problems are
// counted, not fatal; only start-of-run preconditions return an error.
func (p *Pipeline) Run(ctx context.Context, cfg Config, tracer trace.Tracer) (RunSummary, error) {
	start := time.Now()
	timestamp := refreshDate()
	summary := RunSummary{RunID: uuid.NewString(), Timestamp: timestamp}

	runCtx, runSpan := tracer.Start(ctx, "mci-json2tsv run")
	runSpan.SetAttributes(attribute.String(RunIDKey, summary.RunID))
	defer runSpan.End()

	if err := os.MkdirAll(cfg.OutputPath, 0o755); err != nil {
		return summary, fmt.Errorf("Failed to create output directory %s: %v", cfg.OutputPath, err)
	}

	_, classifySpan := tracer.Start(runCtx, classifyStageMsg)
	sorted, err := SortJSONFiles(cfg.Directory, p.classifier)
	classifySpan.End()
	if err != nil {
		return summary, err
	}

	target := len(sorted[FileTypeCOG])
	for _, assay := range AssayTypes {
		target += len(sorted[assay])
	}
	if target == 0 {
		return summary, fmt.Errorf("No COG or IGM JSON files to convert in input directory %s", cfg.Directory)
	}

	files := IntegrationFiles{}

	if len(sorted[FileTypeCOG]) > 0 {
		_, cogSpan := tracer.Start(runCtx, cogStageMsg)
		err = p.runCOG(cfg, sorted[FileTypeCOG], timestamp, files, &summary)
		cogSpan.End()
		if err != nil {
			return summary, err
		}
	}

	if igmCount := target - len(sorted[FileTypeCOG]); igmCount > 0 {
		_, igmSpan := tracer.Start(runCtx, igmStageMsg)
		err = p.runIGM(cfg, sorted, timestamp, files, &summary)
		igmSpan.End()
		if err != nil {
			return summary, err
		}
	}

	if err := writeNameList(cfg.OutputPath, fmt.Sprintf("other_jsons_%s.txt", timestamp), sorted[FileTypeOther]); err != nil {
		return summary, err
	}
	if err := writeNameList(cfg.OutputPath, fmt.Sprintf("undetermined_jsons_%s.txt", timestamp), sorted[FileTypeError]); err != nil {
		return summary, err
	}

	_, intSpan := tracer.Start(runCtx, integrateStageMsg)
	merged, integrated, err := IntegrateCOGIGM(summary.COGSuccess, summary.IGMSuccess, files, cfg.MappingPath, cfg.OutputPath, timestamp)
	intSpan.End()
	if err != nil {
		return summary, err
	}
	summary.Integrated = integrated

	if integrated && p.warehouse != nil {
		_, pubSpan := tracer.Start(runCtx, publishStageMsg)
		if err := p.warehouse.PublishIntegrated(runCtx, merged); err != nil {
			log.Printf("Failed to publish integrated table to Databricks: %v", err)
		}
		pubSpan.End()
	}

	summary.Duration = time.Since(start).Round(time.Millisecond)

	if p.slackURL != "" {
		if err := NotifyViaSlack(runCtx, SlackSummaryBody(summary), p.slackURL); err != nil {
			log.Printf("Failed to notify via Slack: %v", err)
		}
	}

	if p.s3Service != nil {
		_, upSpan := tracer.Start(runCtx, uploadStageMsg)
		p.uploadArtifacts(cfg.OutputPath, timestamp)
		upSpan.End()
	}

	return summary, nil
}

// runCOG transforms the COG family: expand, decode checkbox fields both
// ways, optionally split per form, and register the conversion table for
// integration.
func (p *Pipeline) runCOG(cfg Config, cogJSONs []string, timestamp string, files IntegrationFiles, summary *RunSummary) error {
	cogOut := filepath.Join(cfg.OutputPath, "COG")
	if err := os.MkdirAll(cogOut, 0o755); err != nil {
		return fmt.Errorf("Failed to create COG output directory: %v", err)
	}

	expanded, labels, successCount, errorCount, err := CogToTSV(cfg.Directory, cogJSONs, cogOut, timestamp)
	summary.COGSuccess = successCount
	summary.COGErrors = errorCount
	if err != nil {
		return err
	}
	if expanded.Empty() {
		return nil
	}

	files.Register(cogSourceKey, filepath.Join(cogOut, fmt.Sprintf("COG_JSON_table_conversion_%s.tsv", timestamp)))

	decoded := DecodeCheckedFields(expanded, labels, true)
	if err := decoded.WriteTSV(filepath.Join(cogOut, fmt.Sprintf("COG_decoded_%s.tsv", timestamp))); err != nil {
		return err
	}
	rawDecoded := DecodeCheckedFields(expanded, labels, false)
	if err := rawDecoded.WriteTSV(filepath.Join(cogOut, fmt.Sprintf("COG_raw_decoded_%s.tsv", timestamp))); err != nil {
		return err
	}

	if cfg.FormParse {
		if err := FormParser(expanded, timestamp, cogOut); err != nil {
			return err
		}
	}
	return nil
}

// runIGM transforms each IGM assay family present in the input.
func (p *Pipeline) runIGM(cfg Config, sorted map[FileType][]string, timestamp string, files IntegrationFiles, summary *RunSummary) error {
	igmOut := filepath.Join(cfg.OutputPath, "IGM")
	if err := os.MkdirAll(igmOut, 0o755); err != nil {
		return fmt.Errorf("Failed to create IGM output directory: %v", err)
	}

	for _, assayType := range AssayTypes {
		igmJSONs := sorted[assayType]
		if len(igmJSONs) == 0 {
			log.Printf("No IGM JSONs of type %s", assayType)
			continue
		}
		_, successCount, errorCount, err := IGMToTSV(cfg.Directory, igmJSONs, assayType, igmOut, timestamp, cfg.ResultsParse, files)
		summary.IGMSuccess += successCount
		summary.IGMErrors += errorCount
		if err != nil {
			return err
		}
	}
	return nil
}

// uploadArtifacts pushes everything the run wrote to the configured S3
// bucket under the run timestamp. Upload failures are logged, not fatal:
// the local artifacts are the primary output.
func (p *Pipeline) uploadArtifacts(outputPath, timestamp string) {
	err := filepath.WalkDir(outputPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(outputPath, path)
		if err != nil {
			return err
		}
		key := timestamp + "/" + filepath.ToSlash(rel)
		if err := p.s3Service.PutArtifact(key, path); err != nil {
			log.Printf("Failed to upload artifact %s: %v", rel, err)
		}
		return nil
	})
	if err != nil {
		log.Printf("Failed to walk output directory for artifact upload: %v", err)
	}
}

// writeNameList writes one filename per line; nothing is written for an
// empty list.
func writeNameList(outputPath, name string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	path := filepath.Join(outputPath, name)
	if err := os.WriteFile(path, []byte(strings.Join(names, "\n")), 0o644); err != nil {
		return fmt.Errorf("Failed to write %s: %v", path, err)
	}
	return nil
}

// InitRunLog points the standard logger at the run log file in the working
// directory. RelocateRunLog moves it into the output directory at end of
// run.
func InitRunLog() (func(), error) {
	f, err := os.Create(runLogName)
	if err != nil {
		return nil, fmt.Errorf("Failed to create run log: %v", err)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

func RelocateRunLog(outputPath, timestamp string) error {
	dest := filepath.Join(outputPath, fmt.Sprintf("JSON2TSV_%s.log", timestamp))
	if err := os.Rename(runLogName, dest); err == nil {
		return nil
	}
	// cross-device fallback
	data, err := os.ReadFile(runLogName)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	return os.Remove(runLogName)
}
