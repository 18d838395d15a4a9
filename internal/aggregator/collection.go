package aggregator

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"digipub/internal/marc"
	"digipub/internal/services"
	"digipub/internal/store"
)

// AcceptedPhrase marks a report in which no record was rejected.
const AcceptedPhrase = "0 items skipped/error"

// Collection is a batch's combined record document.
type Collection struct {
	FileName string
	Data     []byte
	Records  int
}

// BuildCollection concatenates each package's normalized record into one
// collection document for jobName.
func BuildCollection(jobName string, pkgs []*store.Package) (*Collection, error) {
	records := make([]*marc.Record, 0, len(pkgs))
	for _, pkg := range pkgs {
		rec, err := marc.ReadFile(pkg.RecordPath())
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "aggregator", "build collection", pkg.ID, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, services.Wrap(services.ErrValidation, "aggregator", "build collection", "job "+jobName+" has no packages", nil)
	}
	data, err := marc.Collection(records)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "aggregator", "build collection", jobName, err)
	}
	return &Collection{FileName: jobName + ".xml", Data: data, Records: len(records)}, nil
}

// WriteCollection replaces dir/{job}.xml with the collection and returns its path.
func WriteCollection(dir string, c *Collection) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create aggregator dir: %w", err)
	}
	path := filepath.Join(dir, c.FileName)
	if err := os.WriteFile(path, c.Data, 0o644); err != nil {
		return "", fmt.Errorf("write collection: %w", err)
	}
	return path, nil
}

// Reader returns the collection body.
func (c *Collection) Reader() *bytes.Reader {
	return bytes.NewReader(c.Data)
}

// ReportAccepted reports whether an aggregator report accepted every record.
func ReportAccepted(report string) bool {
	return strings.Contains(report, AcceptedPhrase)
}
