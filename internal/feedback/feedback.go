package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"digipub/internal/aggregator"
	"digipub/internal/config"
	"digipub/internal/lifecycle"
	"digipub/internal/logging"
	"digipub/internal/marc"
	"digipub/internal/notifications"
	"digipub/internal/pid"
	"digipub/internal/services"
	"digipub/internal/store"
)

// Visibility answers whether a package is public at the partner.
type Visibility interface {
	PublicURL(id string) string
	IsVisible(ctx context.Context, id string) (bool, error)
}

// TargetUpdater retargets persistent identifiers.
type TargetUpdater interface {
	UpdateTarget(ctx context.Context, noid, uri, qualifier string) error
}

// Catalog reads records from the local mirror and resubmits them.
type Catalog interface {
	FetchLocalRecord(ctx context.Context, itemID string) (*marc.Record, error)
	PutRecord(ctx context.Context, systemID string, record *marc.Record) error
}

// ReportFetcher reads aggregator reports.
type ReportFetcher interface {
	FetchReport(ctx context.Context, jobName string) (string, error)
}

// JobTransitioner applies job status changes with their side effects.
type JobTransitioner interface {
	SetJobStatus(ctx context.Context, jobID int64, status store.JobStatus) (*store.Job, error)
}

// Deps collects the checker's collaborators. Nil collaborators disable the
// checks that need them.
type Deps struct {
	Partner  Visibility
	PID      TargetUpdater
	Catalog  Catalog
	Reports  ReportFetcher
	Jobs     JobTransitioner
	Notifier notifications.Service
}

// Checker runs the feedback sweeps.
type Checker struct {
	cfg    *config.Config
	store  *store.Store
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New wires a Checker.
func New(cfg *config.Config, st *store.Store, deps Deps, logger *slog.Logger) (*Checker, error) {
	if cfg == nil || st == nil {
		return nil, services.Wrap(services.ErrConfiguration, "feedback", "init", "config and store are required", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(nil)
	}
	return &Checker{cfg: cfg, store: st, deps: deps, logger: logging.NewComponentLogger(logger, "feedback"), now: time.Now}, nil
}

// VisibilityReport summarizes a partner visibility sweep.
type VisibilityReport struct {
	Checked       int
	Accepted      []string
	CatalogFailed []string
}

// CheckPartnerVisibility probes every package not yet accepted by the
// partner and finalizes the ones now public.
func (c *Checker) CheckPartnerVisibility(ctx context.Context) (*VisibilityReport, error) {
	if c.deps.Partner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "feedback", "partner visibility", "no partner client configured", nil)
	}
	notAccepted := false
	pkgs, err := c.store.ListPackages(ctx, store.PackageFilter{Accepted: &notAccepted})
	if err != nil {
		return nil, err
	}
	report := &VisibilityReport{}
	for _, pkg := range pkgs {
		if pkg.Status == store.PackageDoNotProcess {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		pctx := services.WithPackageID(ctx, pkg.ID)
		visible, err := c.deps.Partner.IsVisible(pctx, pkg.ID)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(pctx, c.logger), "partner visibility probe failed", "visibility_probe_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "package will be probed again on the next pass"),
			)
			continue
		}
		if !visible {
			continue
		}
		ok, err := c.accept(pctx, pkg)
		if err != nil {
			return report, err
		}
		report.Accepted = append(report.Accepted, pkg.ID)
		if !ok {
			report.CatalogFailed = append(report.CatalogFailed, pkg.ID)
		}
	}
	return report, nil
}

// accept records partner acceptance for pkg and updates the catalog. It
// reports false when the catalog update failed; the error return is
// reserved for persistence failures.
func (c *Checker) accept(ctx context.Context, pkg *store.Package) (bool, error) {
	logger := logging.WithContext(ctx, c.logger)
	publicURL := c.deps.Partner.PublicURL(pkg.ID)

	pkg.AcceptedByPartner = true
	pkg.PartnerURL = publicURL
	if err := c.store.UpdatePackage(ctx, pkg); err != nil {
		return false, err
	}
	logger.Info("package accepted by partner", logging.String("url", publicURL))

	if pkg.PID != "" && c.deps.PID != nil {
		for _, qualifier := range []string{"", c.cfg.PID.Qualifier} {
			if err := c.deps.PID.UpdateTarget(ctx, pkg.PID, publicURL, qualifier); err != nil {
				logging.WarnWithContext(logger, "could not retarget persistent identifier", "pid_update_failed",
					logging.String("pid", pkg.PID),
					logging.String("qualifier", qualifier),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "update the identifier target by hand"),
				)
			}
		}
	}

	archive := pkg.ArchivePath(c.cfg.Paths.ProcessDir)
	if err := os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(logger, "could not remove delivered archive", "archive_cleanup_failed",
			logging.String("archive", archive),
			logging.Error(err),
		)
	}

	if err := c.updateCatalog(ctx, pkg); err != nil {
		logging.ErrorWithContext(logger, "catalog update failed", "catalog_update_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the catalog record and set the package status again"),
		)
		note := fmt.Sprintf("%s catalog update failed: %v\n", c.now().Format(time.RFC3339), err)
		if noteErr := c.store.AppendPackageNotes(ctx, pkg.ID, note); noteErr != nil {
			return false, noteErr
		}
		if setErr := c.store.SetPackageStatus(ctx, pkg.ID, store.PackageCatalogUpdateFailed); setErr != nil {
			return false, setErr
		}
		c.notify(ctx, notifications.EventCatalogUpdateFailed, notifications.Payload{"package": pkg.ID, "error": err})
		return false, nil
	}
	return true, nil
}

// updateCatalog rewrites the package's catalog record with digitization
// markers and partner links, then resubmits it.
func (c *Checker) updateCatalog(ctx context.Context, pkg *store.Package) error {
	if c.deps.Catalog == nil {
		return services.Wrap(services.ErrConfiguration, "feedback", "catalog update", "no catalog client configured", nil)
	}
	barcode := pkg.Barcode(c.cfg.Packages.BarcodeLength)
	record, err := c.deps.Catalog.FetchLocalRecord(ctx, barcode)
	if err != nil {
		return err
	}
	record.RemoveFields(c.cfg.Catalog.StripTags...)
	record.MarkDigitized()
	record.EnsureStatement(c.cfg.Catalog.PermanenceStatement)

	links, err := c.links(ctx, pkg)
	if err != nil {
		return err
	}
	record.ReplaceLinks(c.cfg.Partner.LinkLabel, links)

	systemID := record.CatalogID()
	if systemID == "" {
		systemID = pkg.CatalogID
	}
	if err := c.deps.Catalog.PutRecord(ctx, systemID, record); err != nil {
		return err
	}
	logging.WithContext(ctx, c.logger).Info("catalog record updated",
		logging.String("system_id", systemID),
		logging.Int("links", len(links)),
	)
	return nil
}

// links returns one link per accepted volume of the same work, pkg included.
func (c *Checker) links(ctx context.Context, pkg *store.Package) ([]marc.Link, error) {
	volumes := []*store.Package{pkg}
	if pkg.OCLC != "" {
		accepted := true
		siblings, err := c.store.ListPackages(ctx, store.PackageFilter{OCLC: pkg.OCLC, Accepted: &accepted})
		if err != nil {
			return nil, err
		}
		volumes = volumes[:0]
		seen := false
		for _, s := range siblings {
			if s.ID == pkg.ID {
				seen = true
			}
			volumes = append(volumes, s)
		}
		if !seen {
			volumes = append(volumes, pkg)
		}
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].ID < volumes[j].ID })

	links := make([]marc.Link, 0, len(volumes))
	for _, v := range volumes {
		if v.PID == "" {
			continue
		}
		note := v.Note
		if note == lifecycle.NoteNotFound {
			note = ""
		}
		links = append(links, marc.Link{
			Note:  note,
			URL:   pid.TargetURL(c.cfg.PID.LinkBase, v.PID, c.cfg.PID.Qualifier),
			Label: c.cfg.Partner.LinkLabel,
		})
	}
	return links, nil
}

// AggregatorReport summarizes an aggregator report sweep.
type AggregatorReport struct {
	Accepted []string
	Rejected []string
	Waiting  []string
	// Failed lists accepted jobs whose publication could not be started.
	Failed []string
}

// CheckAggregatorReport reads the report for every job waiting on the
// aggregator. An accepting report moves the job to ready_for_partner; any
// other report marks it aggregator_rejected. Jobs without a report yet keep
// waiting. A job whose hand-off to publication fails is logged and listed in
// Failed; the sweep carries on with the remaining jobs.
func (c *Checker) CheckAggregatorReport(ctx context.Context) (*AggregatorReport, error) {
	if c.deps.Reports == nil {
		return nil, services.Wrap(services.ErrConfiguration, "feedback", "aggregator report", "no aggregator transport configured", nil)
	}
	jobs, err := c.store.ListJobs(ctx, store.JobWaitingOnAggregator)
	if err != nil {
		return nil, err
	}
	report := &AggregatorReport{}
	for _, job := range jobs {
		jctx := services.WithJobID(ctx, job.ID)
		logger := logging.WithContext(jctx, c.logger)
		text, err := c.deps.Reports.FetchReport(jctx, job.Name)
		if err != nil {
			if !errors.Is(err, services.ErrNotFound) {
				logging.WarnWithContext(logger, "could not fetch aggregator report", "aggregator_report_failed",
					logging.String("job", job.Name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "job keeps waiting on the aggregator"),
				)
			}
			report.Waiting = append(report.Waiting, job.Name)
			continue
		}
		if !aggregator.ReportAccepted(text) {
			if err := c.store.SetJobStatus(jctx, job.ID, store.JobAggregatorRejected); err != nil {
				return report, err
			}
			logging.WarnWithContext(logger, "aggregator rejected records", "aggregator_rejected",
				logging.String("job", job.Name),
				logging.String(logging.FieldErrorHint, "read the aggregator report and correct the records"),
			)
			report.Rejected = append(report.Rejected, job.Name)
			continue
		}
		if c.deps.Jobs != nil {
			if _, err := c.deps.Jobs.SetJobStatus(jctx, job.ID, store.JobReadyForPartner); err != nil {
				logging.ErrorWithContext(logger, "aggregator accepted job could not be published", "aggregator_transition_failed",
					logging.String("job", job.Name),
					logging.Error(err),
					logging.String(logging.FieldImpact, "job left for the next publication attempt"),
					logging.String(logging.FieldErrorHint, "fix the job and set it to retry"),
				)
				report.Failed = append(report.Failed, job.Name)
				continue
			}
		} else if err := c.store.SetJobStatus(jctx, job.ID, store.JobReadyForPartner); err != nil {
			return report, err
		}
		logger.Info("aggregator accepted records", logging.String("job", job.Name))
		report.Accepted = append(report.Accepted, job.Name)
	}
	return report, nil
}

// RollupJobCompletion promotes being_processed jobs whose every member is
// accepted by the partner to processed_by_partner. It returns the promoted
// job names.
func (c *Checker) RollupJobCompletion(ctx context.Context) ([]string, error) {
	jobs, err := c.store.ListJobs(ctx, store.JobBeingProcessed)
	if err != nil {
		return nil, err
	}
	var promoted []string
	for _, job := range jobs {
		members, err := c.store.PackagesForJob(ctx, job.ID)
		if err != nil {
			return promoted, err
		}
		if len(members) == 0 || !allAccepted(members) {
			continue
		}
		if err := c.store.SetJobStatus(ctx, job.ID, store.JobProcessedByPartner); err != nil {
			return promoted, err
		}
		logging.WithContext(services.WithJobID(ctx, job.ID), c.logger).Info("job processed by partner", logging.String("job", job.Name))
		promoted = append(promoted, job.Name)
	}
	return promoted, nil
}

func allAccepted(pkgs []*store.Package) bool {
	for _, pkg := range pkgs {
		if !pkg.AcceptedByPartner {
			return false
		}
	}
	return true
}

// CheckCatalogConfirmation marks accepted packages confirmed once the local
// catalog mirror's record carries their persistent link. It returns the
// newly confirmed ids.
func (c *Checker) CheckCatalogConfirmation(ctx context.Context) ([]string, error) {
	if c.deps.Catalog == nil {
		return nil, services.Wrap(services.ErrConfiguration, "feedback", "catalog confirmation", "no catalog client configured", nil)
	}
	accepted := true
	pkgs, err := c.store.ListPackages(ctx, store.PackageFilter{Accepted: &accepted})
	if err != nil {
		return nil, err
	}
	var confirmed []string
	for _, pkg := range pkgs {
		if pkg.ConfirmedInCatalog || pkg.PID == "" {
			continue
		}
		pctx := services.WithPackageID(ctx, pkg.ID)
		record, err := c.deps.Catalog.FetchLocalRecord(pctx, pkg.Barcode(c.cfg.Packages.BarcodeLength))
		if err != nil {
			logging.WarnWithContext(logging.WithContext(pctx, c.logger), "could not read local catalog record", "catalog_lookup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "confirmation will be retried on the next pass"),
			)
			continue
		}
		if !record.HasLink(pid.TargetURL(c.cfg.PID.LinkBase, pkg.PID, c.cfg.PID.Qualifier)) {
			continue
		}
		pkg.ConfirmedInCatalog = true
		if err := c.store.UpdatePackage(pctx, pkg); err != nil {
			return confirmed, err
		}
		confirmed = append(confirmed, pkg.ID)
	}
	return confirmed, nil
}

func (c *Checker) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := c.deps.Notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}
