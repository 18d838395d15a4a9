package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"digipub/internal/aggregator"
	"digipub/internal/catalog"
	"digipub/internal/config"
	"digipub/internal/feedback"
	"digipub/internal/lifecycle"
	"digipub/internal/logging"
	"digipub/internal/notifications"
	"digipub/internal/partner"
	"digipub/internal/pid"
	"digipub/internal/preflight"
	"digipub/internal/publisher"
	"digipub/internal/services"
	"digipub/internal/store"
	"digipub/internal/tasks"
	"digipub/internal/workflow"
)

// Service bundles the wired application components.
type Service struct {
	Config    *config.Config
	Store     *store.Store
	Lifecycle *lifecycle.Manager
	Publisher *publisher.Publisher
	Feedback  *feedback.Checker
	Workflow  *workflow.Manager
	Notifier  notifications.Service
	// Queue is nil unless a redis address is configured.
	Queue *tasks.Client

	partner *partner.Client
	logger  *slog.Logger
}

// Open opens the store and wires every collaborator from cfg. Network
// clients are constructed lazily by their libraries; nothing is dialed here.
func Open(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "open", "config is required", nil)
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := wire(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return svc, nil
}

func wire(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Service, error) {
	notifier := notifications.NewService(cfg)
	catalogClient := catalog.NewClient(cfg.Catalog)
	pidClient := pid.NewClient(cfg.PID)
	partnerClient, err := partner.NewClient(cfg.Partner)
	if err != nil {
		return nil, err
	}
	transport := aggregator.NewFTPTransport(cfg.Aggregator)

	lc, err := lifecycle.NewManager(cfg, st, catalogClient, notifier, logger)
	if err != nil {
		return nil, err
	}
	pub, err := publisher.New(cfg, st, publisher.Deps{
		Minter:     pidClient,
		Uploader:   partnerClient,
		Aggregator: transport,
		Notifier:   notifier,
	}, logger)
	if err != nil {
		return nil, err
	}
	var queue *tasks.Client
	if cfg.PublishQueueEnabled() {
		queue = tasks.NewClient(cfg.Queue)
		pub.SetEnqueuer(queue)
	}
	checker, err := feedback.New(cfg, st, feedback.Deps{
		Partner:  partnerClient,
		PID:      pidClient,
		Catalog:  catalogClient,
		Reports:  transport,
		Jobs:     pub,
		Notifier: notifier,
	}, logger)
	if err != nil {
		return nil, err
	}

	wf := workflow.NewManager(cfg, logger)
	if err := wf.RegisterAll(workflow.StandardPasses(cfg.Schedule, lc, checker)); err != nil {
		return nil, err
	}

	return &Service{
		Config:    cfg,
		Store:     st,
		Lifecycle: lc,
		Publisher: pub,
		Feedback:  checker,
		Workflow:  wf,
		Notifier:  notifier,
		Queue:     queue,
		partner:   partnerClient,
		logger:    logging.NewComponentLogger(logger, "api"),
	}, nil
}

// Close releases the store and queue connections.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			s.logger.Warn("close publish queue client", logging.Error(err))
		}
	}
	return s.Store.Close()
}

// RunPass runs a scheduled pass once under its lock.
func (s *Service) RunPass(ctx context.Context, name string) (string, error) {
	return s.Workflow.RunNow(ctx, name)
}

// ValidatePackage re-validates one package.
func (s *Service) ValidatePackage(ctx context.Context, id string) (PackageView, error) {
	pkg, errs, err := s.Lifecycle.ValidateByID(ctx, id)
	if err != nil {
		return PackageView{}, err
	}
	return s.packageView(ctx, pkg, errs)
}

// ListPackages lists packages filtered by status and job name. Empty
// filters match everything.
func (s *Service) ListPackages(ctx context.Context, status, jobName string) ([]PackageView, error) {
	filter := store.PackageFilter{}
	if strings.TrimSpace(status) != "" {
		parsed, err := store.ParsePackageStatus(status)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "list packages", err.Error(), nil)
		}
		filter.Statuses = []store.PackageStatus{parsed}
	}
	if strings.TrimSpace(jobName) != "" {
		job, err := s.mustGetJob(ctx, jobName)
		if err != nil {
			return nil, err
		}
		filter.JobID = job.ID
	}
	pkgs, err := s.Store.ListPackages(ctx, filter)
	if err != nil {
		return nil, err
	}
	names, err := s.jobNames(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PackageView, 0, len(pkgs))
	for _, pkg := range pkgs {
		views = append(views, FromPackage(pkg, names[pkg.JobID], nil))
	}
	return views, nil
}

// DescribePackage returns one package with its validation errors.
func (s *Service) DescribePackage(ctx context.Context, id string) (PackageView, error) {
	pkg, err := s.mustGetPackage(ctx, id)
	if err != nil {
		return PackageView{}, err
	}
	errs, err := s.Store.ValidationErrors(ctx, id)
	if err != nil {
		return PackageView{}, err
	}
	return s.packageView(ctx, pkg, errs)
}

// SetPackageStatus applies an operator status change.
func (s *Service) SetPackageStatus(ctx context.Context, id, status string) (PackageView, error) {
	parsed, err := store.ParsePackageStatus(status)
	if err != nil {
		return PackageView{}, services.Wrap(services.ErrValidation, "api", "set package status", err.Error(), nil)
	}
	if _, err := s.Lifecycle.SetStatus(ctx, id, parsed); err != nil {
		return PackageView{}, err
	}
	return s.DescribePackage(ctx, id)
}

// SetPackageNote changes a package's enumeration note.
func (s *Service) SetPackageNote(ctx context.Context, id, note string) (PackageView, error) {
	if _, err := s.Lifecycle.UpdateNote(ctx, id, note); err != nil {
		return PackageView{}, err
	}
	return s.DescribePackage(ctx, id)
}

// AssignPackage adds a package to a job. An empty job name removes the
// package from its job.
func (s *Service) AssignPackage(ctx context.Context, id, jobName string) (PackageView, error) {
	if _, err := s.mustGetPackage(ctx, id); err != nil {
		return PackageView{}, err
	}
	var jobID int64
	if strings.TrimSpace(jobName) != "" {
		job, err := s.mustGetJob(ctx, jobName)
		if err != nil {
			return PackageView{}, err
		}
		jobID = job.ID
	}
	if err := s.Store.AssignPackage(ctx, id, jobID); err != nil {
		return PackageView{}, err
	}
	return s.DescribePackage(ctx, id)
}

// RemovePackage forgets a package and its validation errors. The package
// directory is left untouched; the next scan rediscovers it.
func (s *Service) RemovePackage(ctx context.Context, id string) error {
	if _, err := s.mustGetPackage(ctx, id); err != nil {
		return err
	}
	_, err := s.Store.DeletePackage(ctx, id)
	return err
}

// CreateJob creates an empty job.
func (s *Service) CreateJob(ctx context.Context, name string) (JobView, error) {
	existing, err := s.Store.GetJobByName(ctx, name)
	if err != nil {
		return JobView{}, err
	}
	if existing != nil {
		return JobView{}, services.Wrap(services.ErrConflict, "api", "create job", fmt.Sprintf("job %q already exists", name), nil)
	}
	job, err := s.Store.CreateJob(ctx, name)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job, nil), nil
}

// ListJobs lists every job with its members.
func (s *Service) ListJobs(ctx context.Context) ([]JobView, error) {
	jobs, err := s.Store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		pkgs, err := s.Store.PackagesForJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, FromJob(job, pkgs))
	}
	return views, nil
}

// DescribeJob returns one job with its members.
func (s *Service) DescribeJob(ctx context.Context, name string) (JobView, error) {
	job, err := s.mustGetJob(ctx, name)
	if err != nil {
		return JobView{}, err
	}
	pkgs, err := s.Store.PackagesForJob(ctx, job.ID)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job, pkgs), nil
}

// RemoveJob deletes a job; its packages become unassigned.
func (s *Service) RemoveJob(ctx context.Context, name string) error {
	job, err := s.mustGetJob(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.Store.DeleteJob(ctx, job.ID)
	return err
}

// SetJobStatus drives the job state machine.
func (s *Service) SetJobStatus(ctx context.Context, name, status string) (JobView, error) {
	parsed, err := store.ParseJobStatus(status)
	if err != nil {
		return JobView{}, services.Wrap(services.ErrValidation, "api", "set job status", err.Error(), nil)
	}
	job, err := s.mustGetJob(ctx, name)
	if err != nil {
		return JobView{}, err
	}
	if _, err := s.Publisher.SetJobStatus(ctx, job.ID, parsed); err != nil {
		return JobView{}, err
	}
	return s.DescribeJob(ctx, name)
}

// PublishJob runs a publication for the job in the foreground. Only jobs the
// aggregator has cleared (ready_for_partner) or earlier runs left in retry or
// upload_failed may be published; failed members of an upload_failed job are
// retried.
func (s *Service) PublishJob(ctx context.Context, name string) (PublishView, error) {
	job, err := s.mustGetJob(ctx, name)
	if err != nil {
		return PublishView{}, err
	}
	switch job.Status {
	case store.JobReadyForPartner, store.JobRetry:
	case store.JobUploadFailed:
		if err := s.Publisher.ResetFailed(ctx, job.ID); err != nil {
			return PublishView{}, err
		}
	default:
		return PublishView{}, services.Wrap(services.ErrValidation, "api", "publish job",
			fmt.Sprintf("job %q is %s; publish needs ready_for_partner, retry or upload_failed", name, job.Status), nil)
	}
	result, err := s.Publisher.Publish(ctx, job.ID)
	if err != nil {
		return PublishView{}, err
	}
	return PublishView{
		Job:      result.Job,
		Status:   string(result.Status),
		Attempts: result.Attempts,
		Uploaded: result.Uploaded,
		Failed:   result.Failed,
	}, nil
}

// Status gathers counts and readiness. Network probes run only when probe is set.
func (s *Service) Status(ctx context.Context, probe bool) (StatusSummary, error) {
	pkgStats, err := s.Store.PackageStats(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	jobStats, err := s.Store.JobStats(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	probes := preflight.Probes{}
	if probe {
		probes.HTTP = &http.Client{Timeout: 5 * time.Second}
		probes.Partner = s.partner
		if s.Queue != nil {
			probes.Queue = s.Queue
		}
	}
	summary := StatusSummary{
		Packages:  MergePackageStats(pkgStats),
		Jobs:      MergeJobStats(jobStats),
		Preflight: preflight.RunAll(ctx, s.Config, probes),
		Passes:    s.Workflow.Status(),
		Queue:     QueueView{Enabled: s.Queue != nil},
	}
	if s.Queue != nil && probe {
		stats, err := s.Queue.Stats()
		if err != nil {
			summary.Queue.Error = err.Error()
		} else {
			summary.Queue.Pending = stats.Pending
			summary.Queue.Active = stats.Active
			summary.Queue.Scheduled = stats.Scheduled
			summary.Queue.Archived = stats.Archived
		}
	}
	return summary, nil
}

// TestNotification sends a test message through every configured sink.
func (s *Service) TestNotification(ctx context.Context) error {
	return s.Notifier.Publish(ctx, notifications.EventTestNotification, notifications.Payload{
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Service) packageView(ctx context.Context, pkg *store.Package, errs []store.ValidationError) (PackageView, error) {
	jobName := ""
	if pkg.HasJob() {
		job, err := s.Store.GetJob(ctx, pkg.JobID)
		if err != nil {
			return PackageView{}, err
		}
		if job != nil {
			jobName = job.Name
		}
	}
	return FromPackage(pkg, jobName, errs), nil
}

func (s *Service) jobNames(ctx context.Context) (map[int64]string, error) {
	jobs, err := s.Store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(jobs))
	for _, job := range jobs {
		names[job.ID] = job.Name
	}
	return names, nil
}

func (s *Service) mustGetPackage(ctx context.Context, id string) (*store.Package, error) {
	pkg, err := s.Store.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "get package", fmt.Sprintf("package %q not found", id), nil)
	}
	return pkg, nil
}

func (s *Service) mustGetJob(ctx context.Context, name string) (*store.Job, error) {
	job, err := s.Store.GetJobByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "get job", fmt.Sprintf("job %q not found", name), nil)
	}
	return job, nil
}
