package mci_json2tsv

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// FileType is the classification assigned to an input file.
type FileType string

const (
	FileTypeCOG          FileType = "cog"
	FileTypeTumorNormal  FileType = "igm.tumor_normal"
	FileTypeArcherFusion FileType = "igm.archer_fusion"
	FileTypeMethylation  FileType = "igm.methylation"
	FileTypeOther        FileType = "other"
	FileTypeError        FileType = "error"
)

// AssayTypes lists the IGM assay classifications in processing order.
var AssayTypes = []FileType{FileTypeTumorNormal, FileTypeArcherFusion, FileTypeMethylation}

// classifyWindow is the number of prefix bytes sniffed per file. 1000 bytes
// is enough to see the identifying tokens in every known export; a token
// appearing only past the window misclassifies the file, an accepted
// limitation of prefix sniffing.
const classifyWindow = 1000

// Classifier assigns a FileType to a file on disk.
type Classifier interface {
	Classify(path string) FileType
}

// PrefixClassifier classifies files by sniffing a fixed-size byte prefix.
// Classification never fails: unreadable files classify as FileTypeError.
type PrefixClassifier struct {
	window int
}

func NewPrefixClassifier() *PrefixClassifier {
	return &PrefixClassifier{window: classifyWindow}
}

func (c *PrefixClassifier) Classify(path string) FileType {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("Error reading file at %s: %v", path, err)
		return FileTypeError
	}
	defer f.Close()

	buf := make([]byte, c.window)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		log.Printf("Error reading file at %s: %v", path, err)
		return FileTypeError
	}
	prefix := string(buf[:n])

	switch {
	case strings.Contains(prefix, "upi"):
		return FileTypeCOG
	case strings.Contains(prefix, "report_type"):
		switch {
		case strings.Contains(prefix, "archer_fusion"):
			return FileTypeArcherFusion
		case strings.Contains(prefix, "tumor_normal"):
			return FileTypeTumorNormal
		case strings.Contains(prefix, "methylation"):
			return FileTypeMethylation
		default:
			log.Printf("Error reading file at %s: IGM assay type unknown.", path)
			return FileTypeError
		}
	default:
		return FileTypeOther
	}
}

// SortJSONFiles scans dirPath for .json files and buckets their names by
// classification. A missing directory or a directory without any .json file
// is a fatal start-of-run error.
func SortJSONFiles(dirPath string, c Classifier) (map[FileType][]string, error) {
	sorted := map[FileType][]string{
		FileTypeCOG:          {},
		FileTypeTumorNormal:  {},
		FileTypeArcherFusion: {},
		FileTypeMethylation:  {},
		FileTypeOther:        {},
		FileTypeError:        {},
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("Input path %s does not exist: %v", dirPath, err)
	}

	var jsonFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			jsonFiles = append(jsonFiles, e.Name())
		}
	}
	if len(jsonFiles) == 0 {
		return nil, fmt.Errorf("Input path %s does not contain any JSON files", dirPath)
	}

	for _, name := range jsonFiles {
		ft := c.Classify(filepath.Join(dirPath, name))
		sorted[ft] = append(sorted[ft], name)
	}
	return sorted, nil
}
