package store

import "path/filepath"

// Files inside a package directory.
const (
	RecordFileName  = "marc.xml"
	SidecarFileName = "meta.yml"
	ManifestDir     = "METS"
	ImageDir        = "TIFF"
	LayoutDir       = "ALTO"
	TextDir         = "OCR"
)

// RecordPath returns the normalized bibliographic record file.
func (p *Package) RecordPath() string {
	return filepath.Join(p.Dir(), RecordFileName)
}

// SidecarPath returns the capture-metadata sidecar file.
func (p *Package) SidecarPath() string {
	return filepath.Join(p.Dir(), SidecarFileName)
}

// ManifestPath returns the package's METS manifest.
func (p *Package) ManifestPath() string {
	return filepath.Join(p.Dir(), ManifestDir, p.ID+".mets.xml")
}

// ArchivePath returns the deliverable archive location under processDir.
func (p *Package) ArchivePath(processDir string) string {
	return filepath.Join(processDir, p.ID+".zip")
}
