package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"digipub/internal/fileutil"
	"digipub/internal/logging"
	"digipub/internal/marc"
	"digipub/internal/notifications"
	"digipub/internal/services"
	"digipub/internal/store"
)

// ScanReport summarizes one scan.
type ScanReport struct {
	Created []string
	Moved   []string
	Invalid []string
	// Failed maps identifiers that could not be created to the reason.
	Failed map[string]string
}

// Bad lists every identifier that needs operator attention.
func (r *ScanReport) Bad() []string {
	out := append([]string(nil), r.Invalid...)
	for id := range r.Failed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Scan walks the ingest root. Known packages found under a different parent
// get their path updated; new directories matching the identifier pattern
// are created and validated. A failure on one directory is recorded in the
// report and the scan moves on.
func (m *Manager) Scan(ctx context.Context) (*ScanReport, error) {
	ctx = services.WithPass(ctx, "scan")
	logger := logging.WithContext(ctx, m.logger)

	root := m.cfg.Paths.IngestRoot
	info, err := os.Stat(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "lifecycle", "scan", "ingest root unavailable", err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "lifecycle", "scan", root+" is not a directory", nil)
	}

	known, err := m.store.PackageIDs(ctx)
	if err != nil {
		return nil, err
	}
	excluded := m.cfg.ExcludedPaths()

	candidates := make(map[string]string)
	moves := make(map[string]string)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.WarnWithContext(logger, "scan could not read path", "scan_walk_error",
				logging.String("path", path),
				logging.Error(err),
			)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if isExcluded(path, excluded) {
			return filepath.SkipDir
		}
		name := d.Name()
		parent := filepath.Dir(path)
		if stored, ok := known[name]; ok {
			if filepath.Clean(stored) != parent {
				moves[name] = parent
			}
			return nil
		}
		if m.idPattern.MatchString(name) {
			candidates[name] = parent
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	report := &ScanReport{Failed: make(map[string]string)}
	for _, id := range sortedKeys(moves) {
		if err := m.movePackage(ctx, id, moves[id]); err != nil {
			report.Failed[id] = errorText(err)
			continue
		}
		report.Moved = append(report.Moved, id)
	}

	for _, id := range sortedKeys(candidates) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		pkg, err := m.createPackage(ctx, id, candidates[id])
		if err != nil {
			logging.ErrorWithContext(logger, "package creation failed", "package_create_failed",
				logging.PackageID(id),
				logging.Error(err),
			)
			report.Failed[id] = errorText(err)
			continue
		}
		report.Created = append(report.Created, id)
		if pkg.Status == store.PackageInvalid {
			report.Invalid = append(report.Invalid, id)
		}
	}

	logger.Info("scan complete",
		logging.Int("created", len(report.Created)),
		logging.Int("moved", len(report.Moved)),
		logging.Int("invalid", len(report.Invalid)),
		logging.Int("failed", len(report.Failed)),
	)

	if bad := report.Bad(); len(bad) > 0 {
		if err := m.notifier.Publish(ctx, notifications.EventScanReport, notifications.Payload{"packages": bad}); err != nil {
			logging.WarnWithContext(logger, "scan report not delivered", "notification_failed", logging.Error(err))
		}
	}
	return report, nil
}

func (m *Manager) movePackage(ctx context.Context, id, parent string) error {
	unlock := m.locks.lock(id)
	defer unlock()

	pkg, err := m.mustGet(ctx, id)
	if err != nil {
		return err
	}
	previous := pkg.Path
	pkg.Path = parent
	if err := m.store.UpdatePackage(ctx, pkg); err != nil {
		return err
	}
	logging.WithContext(services.WithPackageID(ctx, id), m.logger).Info("package moved",
		logging.String("from", previous),
		logging.String("to", parent),
	)
	return nil
}

// createPackage fetches and normalizes the record, writes it into the
// package directory, creates the row and validates it.
func (m *Manager) createPackage(ctx context.Context, id, parent string) (*store.Package, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	if m.records == nil {
		return nil, errNoFetcher
	}
	pkg := &store.Package{ID: id, Path: parent, Status: store.PackageInvalid}
	barcode := pkg.Barcode(m.cfg.Packages.BarcodeLength)

	record, err := m.records.FetchRecord(ctx, barcode)
	if err != nil {
		return nil, fmt.Errorf("fetch record for %s: %w", barcode, err)
	}
	record.Normalize(marc.Options{
		Barcode:        barcode,
		LegacyPrefix:   m.cfg.Catalog.LegacyPrefix,
		CrossrefPrefix: m.cfg.Catalog.CrossrefPrefix,
	})

	note, ok := record.Note(barcode)
	if !ok {
		note = NoteNotFound
	}
	pkg.Note = strings.TrimSpace(note)
	pkg.OCLC = record.OCLC()
	pkg.CatalogID = record.CatalogID()

	created, err := fileutil.CreationTime(pkg.Dir())
	if err != nil {
		created = m.now()
	}
	pkg.CreatedAt = created.UTC()

	if err := record.WriteFile(pkg.RecordPath()); err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}
	if err := m.store.CreatePackage(ctx, pkg); err != nil {
		if errors.Is(err, store.ErrPackageExists) {
			return nil, services.Wrap(services.ErrConflict, "lifecycle", "create package", id, err)
		}
		return nil, err
	}
	logging.WithContext(services.WithPackageID(ctx, id), m.logger).Info("package created",
		logging.String("path", parent),
		logging.String("note", pkg.Note),
		logging.String("oclc", pkg.OCLC),
	)

	if _, err := m.validate(ctx, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func isExcluded(path string, excluded []string) bool {
	for _, ex := range excluded {
		if path == ex {
			return true
		}
	}
	return false
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
