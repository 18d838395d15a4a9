package api

import (
	"time"

	"digipub/internal/store"
)

const dateTimeFormat = time.RFC3339

// FromPackage converts a stored package. jobName is empty for unassigned packages.
func FromPackage(pkg *store.Package, jobName string, errs []store.ValidationError) PackageView {
	if pkg == nil {
		return PackageView{}
	}
	view := PackageView{
		ID:                 pkg.ID,
		Path:               pkg.Path,
		Status:             string(pkg.Status),
		Note:               pkg.Note,
		Notes:              pkg.Notes,
		OCLC:               pkg.OCLC,
		CatalogID:          pkg.CatalogID,
		PID:                pkg.PID,
		Job:                jobName,
		AcceptedByPartner:  pkg.AcceptedByPartner,
		PartnerURL:         pkg.PartnerURL,
		ConfirmedInCatalog: pkg.ConfirmedInCatalog,
		CreatedAt:          formatTime(pkg.CreatedAt),
		UpdatedAt:          formatTime(pkg.UpdatedAt),
	}
	for _, e := range errs {
		view.Errors = append(view.Errors, ValidationErrorView{Category: e.Category, Message: e.Message})
	}
	return view
}

// FromJob converts a stored job with its member packages.
func FromJob(job *store.Job, pkgs []*store.Package) JobView {
	if job == nil {
		return JobView{}
	}
	ids := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		ids = append(ids, pkg.ID)
	}
	return JobView{
		ID:        job.ID,
		Name:      job.Name,
		Status:    string(job.Status),
		Packages:  ids,
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
}

// MergePackageStats fills every known package status so views list zeros too.
func MergePackageStats(stats map[store.PackageStatus]int) map[string]int {
	out := make(map[string]int, len(store.PackageStatuses()))
	for _, status := range store.PackageStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

// MergeJobStats fills every known job status.
func MergeJobStats(stats map[store.JobStatus]int) map[string]int {
	out := make(map[string]int, len(store.JobStatuses()))
	for _, status := range store.JobStatuses() {
		out[string(status)] = stats[status]
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
