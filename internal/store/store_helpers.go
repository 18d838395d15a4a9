package store

import (
	"database/sql"
	"errors"
	"time"
)

const packageColumns = "id, path, status, note, notes, oclc, catalog_id, pid, job_id, accepted_by_partner, partner_url, confirmed_in_catalog, created_at, updated_at"

const jobColumns = "id, name, status, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(scanner rowScanner) (*Package, error) {
	var (
		pkg        Package
		status     string
		note       sql.NullString
		notes      sql.NullString
		oclc       sql.NullString
		catalogID  sql.NullString
		pid        sql.NullString
		jobID      sql.NullInt64
		accepted   int64
		partnerURL sql.NullString
		confirmed  int64
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&pkg.ID,
		&pkg.Path,
		&status,
		&note,
		&notes,
		&oclc,
		&catalogID,
		&pid,
		&jobID,
		&accepted,
		&partnerURL,
		&confirmed,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	pkg.Status = PackageStatus(status)
	pkg.Note = note.String
	pkg.Notes = notes.String
	pkg.OCLC = oclc.String
	pkg.CatalogID = catalogID.String
	pkg.PID = pid.String
	pkg.JobID = jobID.Int64
	pkg.AcceptedByPartner = accepted != 0
	pkg.PartnerURL = partnerURL.String
	pkg.ConfirmedInCatalog = confirmed != 0
	if created, err := parseTimeString(createdRaw); err == nil {
		pkg.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		pkg.UpdatedAt = updated
	}
	return &pkg, nil
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job        Job
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&job.ID, &job.Name, &status, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableID(value int64) any {
	if value <= 0 {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
