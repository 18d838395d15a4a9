package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"digipub/internal/config"
	"digipub/internal/logging"
	"digipub/internal/marc"
	"digipub/internal/notifications"
	"digipub/internal/rights"
	"digipub/internal/services"
	"digipub/internal/store"
	"digipub/internal/techval"
)

// NoteNotFound is the note recorded when the record has no item field for
// the package barcode.
const NoteNotFound = "EnumCron not found"

// RecordFetcher retrieves a bibliographic record by item barcode.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, itemID string) (*marc.Record, error)
}

// Manager runs package validation, scans and operator edits.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	records   RecordFetcher
	notifier  notifications.Service
	logger    *slog.Logger
	idPattern *regexp.Regexp
	locks     keyedMutex
	now       func() time.Time
}

// NewManager wires a Manager. A nil notifier disables scan reports.
func NewManager(cfg *config.Config, st *store.Store, records RecordFetcher, notifier notifications.Service, logger *slog.Logger) (*Manager, error) {
	if cfg == nil || st == nil {
		return nil, services.Wrap(services.ErrConfiguration, "lifecycle", "init", "config and store are required", nil)
	}
	pattern, err := regexp.Compile(cfg.Packages.IDPattern)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "lifecycle", "init", "invalid packages.id_pattern", err)
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Manager{
		cfg:       cfg,
		store:     st,
		records:   records,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "lifecycle"),
		idPattern: pattern,
		now:       time.Now,
	}, nil
}

// Validate re-derives the package's status. Findings are stored as
// validation errors, never returned; only persistence failures are.
func (m *Manager) Validate(ctx context.Context, pkg *store.Package) (store.PackageStatus, error) {
	unlock := m.locks.lock(pkg.ID)
	defer unlock()
	return m.validate(ctx, pkg)
}

func (m *Manager) validate(ctx context.Context, pkg *store.Package) (store.PackageStatus, error) {
	ctx = services.WithPackageID(ctx, pkg.ID)
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("validating package", logging.String("dir", pkg.Dir()))

	record, recordErr := marc.ReadFile(pkg.RecordPath())
	if recordErr != nil {
		logging.WarnWithContext(logger, "bibliographic record unreadable", "record_unreadable",
			logging.String("path", pkg.RecordPath()),
			logging.Error(recordErr),
			logging.String(logging.FieldImpact, "rights cannot be evaluated"),
		)
	}

	m.writeSidecar(logger, pkg, record)

	var findings []store.ValidationError
	findings = append(findings, m.rightsFindings(pkg, record, recordErr)...)
	for _, f := range techval.CheckPackage(pkg.Dir(), pkg.ID) {
		findings = append(findings, store.ValidationError{Message: f.Message, Category: f.Category})
	}

	if err := m.store.ReplaceValidationErrors(ctx, pkg.ID, findings); err != nil {
		return pkg.Status, err
	}
	status := store.PackageValid
	if len(findings) > 0 {
		status = store.PackageInvalid
	}
	if err := m.store.SetPackageStatus(ctx, pkg.ID, status); err != nil {
		return pkg.Status, err
	}
	pkg.Status = status

	if len(findings) > 0 {
		for _, f := range findings {
			logger.Debug("validation finding", logging.String("category", f.Category), logging.String("message", f.Message))
		}
	}
	logger.Info("validation complete", logging.String("status", string(status)), logging.Int("errors", len(findings)))
	return status, nil
}

func (m *Manager) rightsFindings(pkg *store.Package, record *marc.Record, recordErr error) []store.ValidationError {
	if recordErr != nil {
		return []store.ValidationError{{Message: "Could not determine rights", Category: store.CategoryInadequateRights}}
	}
	result := rights.Evaluate(rights.Input{
		Fixed:    record.FixedData(),
		Note:     pkg.Note,
		Marker:   record.RightsMarker(),
		Reviewed: record.CaptureAgent() != "",
		Label:    pkg.ID,
	})
	if result.Verdict == rights.Eligible {
		return nil
	}
	return []store.ValidationError{{Message: result.Reason, Category: store.CategoryInadequateRights}}
}

func (m *Manager) writeSidecar(logger *slog.Logger, pkg *store.Package, record *marc.Record) {
	sidecar := Sidecar{
		CaptureDate:   captureDate(pkg.CreatedAt),
		ScannerUser:   m.cfg.Packages.ScannerUser,
		ScanningOrder: m.cfg.Packages.ScanningOrder,
		ReadingOrder:  m.cfg.Packages.ReadingOrder,
	}
	if record != nil {
		sidecar.CaptureAgent = record.CaptureAgent()
	}
	if err := WriteSidecar(pkg.SidecarPath(), sidecar); err != nil {
		logging.WarnWithContext(logger, "capture sidecar not written", "sidecar_write_failed",
			logging.String("path", pkg.SidecarPath()),
			logging.Error(err),
		)
	}
}

// ValidateByID loads and validates one package, returning the refreshed row
// and its errors.
func (m *Manager) ValidateByID(ctx context.Context, id string) (*store.Package, []store.ValidationError, error) {
	pkg, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.Validate(ctx, pkg); err != nil {
		return nil, nil, err
	}
	errs, err := m.store.ValidationErrors(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return pkg, errs, nil
}

// SetStatus applies an operator status change. Reprocess re-validates the
// existing row before returning; the final status is the validation result.
func (m *Manager) SetStatus(ctx context.Context, id string, status store.PackageStatus) (*store.Package, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	pkg, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetPackageStatus(ctx, id, status); err != nil {
		return nil, err
	}
	pkg.Status = status
	if status == store.PackageReprocess {
		if _, err := m.validate(ctx, pkg); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

// UpdateNote changes the package's enumeration note and writes it into the
// on-disk record's item field. The record is rewritten first so a failed
// write leaves the row untouched.
func (m *Manager) UpdateNote(ctx context.Context, id, note string) (*store.Package, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	pkg, err := m.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if note == pkg.Note {
		return pkg, nil
	}

	record, err := marc.ReadFile(pkg.RecordPath())
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "lifecycle", "update note", "read record", err)
	}
	record.SetNote(pkg.Barcode(m.cfg.Packages.BarcodeLength), note)
	if err := record.WriteFile(pkg.RecordPath()); err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}

	pkg.Note = note
	if err := m.store.UpdatePackage(ctx, pkg); err != nil {
		return nil, err
	}
	logging.WithContext(services.WithPackageID(ctx, id), m.logger).Info("note updated", logging.String("note", note))
	return pkg, nil
}

func (m *Manager) mustGet(ctx context.Context, id string) (*store.Package, error) {
	pkg, err := m.store.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, services.Wrap(services.ErrNotFound, "lifecycle", "lookup", "package "+id, nil)
	}
	return pkg, nil
}

// errorText flattens err for reports.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	var parts []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "; ")
}

var errNoFetcher = errors.New("no record fetcher configured")
