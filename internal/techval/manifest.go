package techval

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"digipub/internal/fileutil"
	"digipub/internal/mets"
	"digipub/internal/store"
)

// Finding is one violated rule.
type Finding struct {
	Message  string
	Category string
}

// ManifestPath returns the expected manifest location for a package.
func ManifestPath(pkgDir, id string) string {
	return filepath.Join(pkgDir, "METS", id+".mets.xml")
}

// CheckManifest loads and structurally validates the manifest at path. The
// returned document is nil when the manifest is missing or cannot be parsed;
// a structurally invalid document is still returned so its checksums can be
// checked.
func CheckManifest(path string) (*mets.Document, []Finding) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, []Finding{{
				Message:  fmt.Sprintf("Error: %s does not exist", path),
				Category: store.CategoryMissingManifest,
			}}
		}
		return nil, []Finding{{
			Message:  fmt.Sprintf("Error '%v' while loading Mets", err),
			Category: store.CategoryLoadingManifest,
		}}
	}

	doc, err := mets.ReadFile(path)
	if err != nil {
		return nil, []Finding{{
			Message:  fmt.Sprintf("Error '%v' while loading Mets", err),
			Category: store.CategoryLoadingManifest,
		}}
	}
	if err := doc.Validate(); err != nil {
		detail := strings.ReplaceAll(err.Error(), "\n", "; ")
		return doc, []Finding{{
			Message:  fmt.Sprintf("Error: %s is not valid (%s)", path, detail),
			Category: store.CategoryInvalidManifest,
		}}
	}
	return doc, nil
}

// CheckChecksums verifies that every image entry in doc exists relative to
// the manifest directory and that its MD5 matches the recorded checksum.
func CheckChecksums(doc *mets.Document, manifestDir string) []Finding {
	var findings []Finding
	for _, entry := range doc.ImageEntries() {
		path := filepath.Clean(filepath.Join(manifestDir, filepath.FromSlash(entry.Href)))
		sum, err := fileutil.MD5File(path)
		if err != nil {
			findings = append(findings, Finding{
				Message:  fmt.Sprintf("Error: %s does not exist", path),
				Category: store.CategoryMissing,
			})
			continue
		}
		if sum != entry.Checksum {
			findings = append(findings, Finding{
				Message:  fmt.Sprintf("Error: checksum does not match for %s", path),
				Category: store.CategoryChecksum,
			})
		}
	}
	return findings
}

// ImagePaths lists the page images under {pkgDir}/TIFF in name order.
func ImagePaths(pkgDir string) ([]string, error) {
	return filepath.Glob(filepath.Join(pkgDir, "TIFF", "*.tif"))
}

// CheckPackage runs every technical check for the package at pkgDir: the
// manifest, the checksums it records, and the tags of each page image.
func CheckPackage(pkgDir, id string) []Finding {
	manifest := ManifestPath(pkgDir, id)
	doc, findings := CheckManifest(manifest)
	if doc != nil {
		findings = append(findings, CheckChecksums(doc, filepath.Dir(manifest))...)
	}

	images, err := ImagePaths(pkgDir)
	if err != nil {
		findings = append(findings, technical(fmt.Sprintf("Error '%v' while validating %s", err, pkgDir)))
		return findings
	}
	for _, img := range images {
		findings = append(findings, CheckImage(img)...)
	}
	return findings
}
