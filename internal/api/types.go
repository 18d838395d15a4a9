package api

import (
	"digipub/internal/preflight"
	"digipub/internal/workflow"
)

// PackageView describes a package in a transport-friendly format.
type PackageView struct {
	ID                 string                `json:"id"`
	Path               string                `json:"path"`
	Status             string                `json:"status"`
	Note               string                `json:"note,omitempty"`
	Notes              string                `json:"notes,omitempty"`
	OCLC               string                `json:"oclc,omitempty"`
	CatalogID          string                `json:"catalog_id,omitempty"`
	PID                string                `json:"pid,omitempty"`
	Job                string                `json:"job,omitempty"`
	AcceptedByPartner  bool                  `json:"accepted_by_partner"`
	PartnerURL         string                `json:"partner_url,omitempty"`
	ConfirmedInCatalog bool                  `json:"confirmed_in_catalog"`
	CreatedAt          string                `json:"created_at,omitempty"`
	UpdatedAt          string                `json:"updated_at,omitempty"`
	Errors             []ValidationErrorView `json:"errors,omitempty"`
}

// ValidationErrorView is one stored validation finding.
type ValidationErrorView struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// JobView describes a job and its members.
type JobView struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Packages  []string `json:"packages"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// PublishView summarizes a publication run.
type PublishView struct {
	Job      string   `json:"job"`
	Status   string   `json:"status"`
	Attempts int      `json:"attempts"`
	Uploaded []string `json:"uploaded"`
	Failed   []string `json:"failed"`
	Queued   bool     `json:"queued"`
}

// QueueView reports publish tasks held in redis.
type QueueView struct {
	Enabled   bool   `json:"enabled"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Archived  int    `json:"archived"`
	Error     string `json:"error,omitempty"`
}

// StatusSummary aggregates system health for the status command.
type StatusSummary struct {
	Packages  map[string]int        `json:"packages"`
	Jobs      map[string]int        `json:"jobs"`
	Preflight []preflight.Result    `json:"preflight"`
	Passes    []workflow.PassStatus `json:"passes,omitempty"`
	Queue     QueueView             `json:"queue"`
}
