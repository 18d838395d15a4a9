package lifecycle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sidecar is the capture metadata written to meta.yml.
type Sidecar struct {
	CaptureDate   string `yaml:"capture_date"`
	CaptureAgent  string `yaml:"capture_agent"`
	ScannerUser   string `yaml:"scanner_user"`
	ScanningOrder string `yaml:"scanning_order"`
	ReadingOrder  string `yaml:"reading_order"`
}

// WriteSidecar replaces the file at path with s.
func WriteSidecar(path string, s Sidecar) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// ReadSidecar decodes the sidecar at path.
func ReadSidecar(path string) (Sidecar, error) {
	var s Sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode sidecar: %w", err)
	}
	return s, nil
}

func captureDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
