package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// PackageStatus represents the lifecycle of a digitized volume.
type PackageStatus string

const (
	PackageValid               PackageStatus = "valid"
	PackageInvalid             PackageStatus = "invalid"
	PackageDoNotProcess        PackageStatus = "do_not_process"
	PackageReprocess           PackageStatus = "reprocess"
	PackageRetry               PackageStatus = "retry"
	PackageUploadFailed        PackageStatus = "upload_failed"
	PackageUploaded            PackageStatus = "uploaded"
	PackageArchived            PackageStatus = "archived"
	PackageCatalogUpdateFailed PackageStatus = "catalog_update_failed"
)

var allPackageStatuses = []PackageStatus{
	PackageValid,
	PackageInvalid,
	PackageDoNotProcess,
	PackageReprocess,
	PackageRetry,
	PackageUploadFailed,
	PackageUploaded,
	PackageArchived,
	PackageCatalogUpdateFailed,
}

// PackageStatuses returns every package status in display order.
func PackageStatuses() []PackageStatus {
	return append([]PackageStatus(nil), allPackageStatuses...)
}

// ParsePackageStatus converts user input into a PackageStatus.
func ParsePackageStatus(value string) (PackageStatus, error) {
	normalized := PackageStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	for _, status := range allPackageStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown package status %q", value)
}

// JobStatus represents the lifecycle of a publication batch.
type JobStatus string

const (
	JobNew                   JobStatus = "new"
	JobReadyForAggregator    JobStatus = "ready_for_aggregator"
	JobWaitingOnAggregator   JobStatus = "waiting_on_aggregator"
	JobAggregatorUploadError JobStatus = "aggregator_upload_error"
	JobAggregatorRejected    JobStatus = "aggregator_rejected"
	JobReadyForPartner       JobStatus = "ready_for_partner"
	JobUploading             JobStatus = "uploading"
	JobRetry                 JobStatus = "retry"
	JobUploadFailed          JobStatus = "upload_failed"
	JobBeingProcessed        JobStatus = "being_processed"
	JobProcessed             JobStatus = "processed"
	JobProcessedByPartner    JobStatus = "processed_by_partner"
)

var allJobStatuses = []JobStatus{
	JobNew,
	JobReadyForAggregator,
	JobWaitingOnAggregator,
	JobAggregatorUploadError,
	JobAggregatorRejected,
	JobReadyForPartner,
	JobUploading,
	JobRetry,
	JobUploadFailed,
	JobBeingProcessed,
	JobProcessed,
	JobProcessedByPartner,
}

// JobStatuses returns every job status in display order.
func JobStatuses() []JobStatus {
	return append([]JobStatus(nil), allJobStatuses...)
}

// ParseJobStatus converts user input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	normalized := JobStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	for _, status := range allJobStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", value)
}

// Package is one digitized volume discovered under the ingest root.
type Package struct {
	ID                 string
	Path               string
	Status             PackageStatus
	Note               string
	Notes              string
	OCLC               string
	CatalogID          string
	PID                string
	JobID              int64
	AcceptedByPartner  bool
	PartnerURL         string
	ConfirmedInCatalog bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Dir returns the package directory on disk.
func (p *Package) Dir() string {
	return filepath.Join(p.Path, p.ID)
}

// Barcode returns the leading barcode portion of the package identifier.
func (p *Package) Barcode(length int) string {
	if length <= 0 || len(p.ID) <= length {
		return p.ID
	}
	return p.ID[:length]
}

// HasJob reports whether the package is assigned to a job.
func (p *Package) HasJob() bool {
	return p.JobID > 0
}

// Job is a named batch of packages published together.
type Job struct {
	ID        int64
	Name      string
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationError is one rule violation found during a validation run.
type ValidationError struct {
	ID        int64
	PackageID string
	Message   string
	Category  string
	CreatedAt time.Time
}

// Validation error categories.
const (
	CategoryInadequateRights = "Inadequate Rights"
	CategoryMissingManifest  = "Missing Manifest"
	CategoryLoadingManifest  = "Loading Manifest"
	CategoryInvalidManifest  = "Invalid Manifest"
	CategoryInvalidTechnical = "Invalid Technical Metadata"
	CategoryMissing          = "Missing"
	CategoryChecksum         = "Checksum"
)
