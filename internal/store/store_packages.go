package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPackageExists is returned by CreatePackage when the identifier is taken.
var ErrPackageExists = errors.New("package already exists")

// CreatePackage inserts a new package row. A zero CreatedAt is stamped with
// the current time.
func (s *Store) CreatePackage(ctx context.Context, pkg *Package) error {
	if pkg == nil || strings.TrimSpace(pkg.ID) == "" {
		return errors.New("package id is required")
	}
	now := time.Now().UTC()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now
	if pkg.Status == "" {
		pkg.Status = PackageInvalid
	}

	existing, err := s.GetPackage(ctx, pkg.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrPackageExists, pkg.ID)
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO packages (`+packageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.ID,
		pkg.Path,
		pkg.Status,
		nullableString(pkg.Note),
		nullableString(pkg.Notes),
		nullableString(pkg.OCLC),
		nullableString(pkg.CatalogID),
		nullableString(pkg.PID),
		nullableID(pkg.JobID),
		boolToInt(pkg.AcceptedByPartner),
		nullableString(pkg.PartnerURL),
		boolToInt(pkg.ConfirmedInCatalog),
		formatTime(pkg.CreatedAt),
		formatTime(pkg.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	return nil
}

// GetPackage fetches a package by identifier. A missing package yields (nil, nil).
func (s *Store) GetPackage(ctx context.Context, id string) (*Package, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

// UpdatePackage persists every mutable column of an existing package.
func (s *Store) UpdatePackage(ctx context.Context, pkg *Package) error {
	if pkg == nil {
		return errors.New("package is nil")
	}
	pkg.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE packages
         SET path = ?, status = ?, note = ?, notes = ?, oclc = ?, catalog_id = ?, pid = ?,
             job_id = ?, accepted_by_partner = ?, partner_url = ?, confirmed_in_catalog = ?,
             updated_at = ?
         WHERE id = ?`,
		pkg.Path,
		pkg.Status,
		nullableString(pkg.Note),
		nullableString(pkg.Notes),
		nullableString(pkg.OCLC),
		nullableString(pkg.CatalogID),
		nullableString(pkg.PID),
		nullableID(pkg.JobID),
		boolToInt(pkg.AcceptedByPartner),
		nullableString(pkg.PartnerURL),
		boolToInt(pkg.ConfirmedInCatalog),
		formatTime(pkg.UpdatedAt),
		pkg.ID,
	)
	if err != nil {
		return fmt.Errorf("update package: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update package %s: %w", pkg.ID, sql.ErrNoRows)
	}
	return nil
}

// SetPackageStatus updates only the status column.
func (s *Store) SetPackageStatus(ctx context.Context, id string, status PackageStatus) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE packages SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("set package status: %w", err)
	}
	return nil
}

// AppendPackageNotes appends entry to the package's free-text notes log.
func (s *Store) AppendPackageNotes(ctx context.Context, id, entry string) error {
	if strings.TrimSpace(entry) == "" {
		return nil
	}
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE packages SET notes = COALESCE(notes, '') || ?, updated_at = ? WHERE id = ?`,
		entry, formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("append package notes: %w", err)
	}
	return nil
}

// AssignPackage links a package to a job. A jobID of 0 clears the link.
func (s *Store) AssignPackage(ctx context.Context, id string, jobID int64) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE packages SET job_id = ?, updated_at = ? WHERE id = ?`,
		nullableID(jobID), formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("assign package: %w", err)
	}
	return nil
}

// PackageFilter narrows ListPackages. Zero values match everything.
type PackageFilter struct {
	Statuses []PackageStatus
	JobID    int64
	OCLC     string
	// Accepted, when non-nil, filters on the accepted-by-partner flag.
	Accepted *bool
}

// ListPackages returns packages matching filter ordered by identifier.
func (s *Store) ListPackages(ctx context.Context, filter PackageFilter) ([]*Package, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, `status IN (`+makePlaceholders(len(filter.Statuses))+`)`)
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.JobID > 0 {
		clauses = append(clauses, `job_id = ?`)
		args = append(args, filter.JobID)
	}
	if filter.OCLC != "" {
		clauses = append(clauses, `oclc = ?`)
		args = append(args, filter.OCLC)
	}
	if filter.Accepted != nil {
		clauses = append(clauses, `accepted_by_partner = ?`)
		args = append(args, boolToInt(*filter.Accepted))
	}

	query := `SELECT ` + packageColumns + ` FROM packages`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY id`
	return s.queryPackages(ctx, query, args...)
}

// PackagesForJob returns the members of a job ordered by identifier.
func (s *Store) PackagesForJob(ctx context.Context, jobID int64) ([]*Package, error) {
	return s.ListPackages(ctx, PackageFilter{JobID: jobID})
}

// PackageIDs returns every known package identifier mapped to its stored path.
func (s *Store) PackageIDs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT id, path FROM packages`)
	if err != nil {
		return nil, fmt.Errorf("list package ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		out[id] = path
	}
	return out, rows.Err()
}

// DeletePackage removes a package and, through the foreign key, its validation errors.
func (s *Store) DeletePackage(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM packages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete package: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// PackageStats returns a count of packages grouped by status.
func (s *Store) PackageStats(ctx context.Context) (map[PackageStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM packages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("package stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[PackageStatus]int)
	for rows.Next() {
		var status PackageStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *Store) queryPackages(ctx context.Context, query string, args ...any) ([]*Package, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var packages []*Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}
