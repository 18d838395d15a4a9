package store

import (
	"context"
	"fmt"
	"time"
)

// ReplaceValidationErrors atomically discards every stored error for the
// package and records errs in their place.
func (s *Store) ReplaceValidationErrors(ctx context.Context, packageID string, errs []ValidationError) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin validation tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM validation_errors WHERE package_id = ?`, packageID); err != nil {
			return fmt.Errorf("clear validation errors: %w", err)
		}
		timestamp := formatTime(time.Now())
		for _, ve := range errs {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO validation_errors (package_id, message, category, created_at) VALUES (?, ?, ?, ?)`,
				packageID, ve.Message, nullableString(ve.Category), timestamp,
			); err != nil {
				return fmt.Errorf("insert validation error: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ValidationErrors returns the stored errors for a package in insertion order.
func (s *Store) ValidationErrors(ctx context.Context, packageID string) ([]ValidationError, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, package_id, message, COALESCE(category, ''), created_at FROM validation_errors WHERE package_id = ? ORDER BY id`,
		packageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list validation errors: %w", err)
	}
	defer rows.Close()

	var out []ValidationError
	for rows.Next() {
		var (
			ve         ValidationError
			createdRaw string
		)
		if err := rows.Scan(&ve.ID, &ve.PackageID, &ve.Message, &ve.Category, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			ve.CreatedAt = created
		}
		out = append(out, ve)
	}
	return out, rows.Err()
}
