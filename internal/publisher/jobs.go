package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"digipub/internal/aggregator"
	"digipub/internal/logging"
	"digipub/internal/notifications"
	"digipub/internal/services"
	"digipub/internal/store"
)

// SetJobStatus moves a job to status and runs the work that status
// implies. ready_for_aggregator submits the batch's records;
// ready_for_partner and retry start a publication run, inline or through
// the enqueuer. Any other status is stored as given.
func (p *Publisher) SetJobStatus(ctx context.Context, jobID int64, status store.JobStatus) (*store.Job, error) {
	job, err := p.mustGetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("job status requested",
		logging.String("job", job.Name),
		logging.String("from", string(job.Status)),
		logging.String("to", string(status)),
	)

	switch status {
	case store.JobReadyForAggregator:
		if err := p.store.SetJobStatus(ctx, job.ID, status); err != nil {
			return nil, err
		}
		if _, err := p.SubmitToAggregator(ctx, job); err != nil && !isHandled(err) {
			return nil, err
		}
	case store.JobReadyForPartner, store.JobRetry:
		if status == store.JobRetry {
			if err := p.ResetFailed(ctx, job.ID); err != nil {
				return nil, err
			}
		}
		// Persist the request first so a failed run leaves the job where the
		// next attempt can pick it up.
		if err := p.store.SetJobStatus(ctx, job.ID, status); err != nil {
			return nil, err
		}
		if enq := p.enqueuer(); enq != nil {
			if err := p.store.SetJobStatus(ctx, job.ID, store.JobUploading); err != nil {
				return nil, err
			}
			if err := enq.EnqueuePublish(ctx, job.ID); err != nil {
				if rbErr := p.store.SetJobStatus(ctx, job.ID, status); rbErr != nil {
					logging.ErrorWithContext(logger, "job status rollback failed", "job_rollback_failed",
						logging.String("job", job.Name),
						logging.String("status", string(status)),
						logging.Error(rbErr),
						logging.String(logging.FieldImpact, "job stays uploading with no queued publication"),
						logging.String(logging.FieldErrorHint, "set the job to "+string(status)+" again once the queue is reachable"),
					)
				}
				return nil, services.Wrap(services.ErrTransient, "publisher", "enqueue", job.Name, err)
			}
			logger.Info("publication queued", logging.String("job", job.Name))
		} else if _, err := p.Publish(ctx, job.ID); err != nil {
			return nil, err
		}
	case store.JobUploading:
		return nil, services.Wrap(services.ErrValidation, "publisher", "set job status",
			"uploading is set by publication runs only", nil)
	case store.JobBeingProcessed, store.JobProcessedByPartner:
		if err := p.checkMembers(ctx, job, status); err != nil {
			return nil, err
		}
		if err := p.store.SetJobStatus(ctx, job.ID, status); err != nil {
			return nil, err
		}
	default:
		if err := p.store.SetJobStatus(ctx, job.ID, status); err != nil {
			return nil, err
		}
	}
	return p.mustGetJob(ctx, job.ID)
}

// checkMembers refuses a manual move to being_processed unless every member
// is uploaded or has exhausted its retries, and to processed_by_partner
// unless the partner shows every member.
func (p *Publisher) checkMembers(ctx context.Context, job *store.Job, status store.JobStatus) error {
	pkgs, err := p.store.PackagesForJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return services.Wrap(services.ErrValidation, "publisher", "set job status", "job "+job.Name+" has no packages", nil)
	}
	for _, pkg := range pkgs {
		var ok bool
		switch status {
		case store.JobBeingProcessed:
			ok = pkg.Status == store.PackageUploaded || pkg.Status == store.PackageUploadFailed || pkg.AcceptedByPartner
		case store.JobProcessedByPartner:
			ok = pkg.AcceptedByPartner
		}
		if !ok {
			return services.Wrap(services.ErrValidation, "publisher", "set job status",
				fmt.Sprintf("job %s cannot be %s: package %s is %s", job.Name, status, pkg.ID, pkg.Status), nil)
		}
	}
	return nil
}

// ResetFailed returns every upload_failed member to valid so the next run
// retries it.
func (p *Publisher) ResetFailed(ctx context.Context, jobID int64) error {
	pkgs, err := p.store.PackagesForJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		if pkg.Status != store.PackageUploadFailed {
			continue
		}
		if err := p.store.SetPackageStatus(ctx, pkg.ID, store.PackageValid); err != nil {
			return err
		}
	}
	return nil
}

// errHandled wraps a failure that has already been recorded in the job's
// status and reported.
type errHandled struct{ error }

func (e errHandled) Unwrap() error { return e.error }

func isHandled(err error) bool {
	var h errHandled
	return errors.As(err, &h)
}

// SubmitToAggregator sends the job's combined record collection to the
// aggregator and moves the job to waiting_on_aggregator, or to
// aggregator_upload_error when the collection cannot be built or sent.
func (p *Publisher) SubmitToAggregator(ctx context.Context, job *store.Job) (store.JobStatus, error) {
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, p.logger)

	fail := func(err error) (store.JobStatus, error) {
		logging.ErrorWithContext(logger, "aggregator submission failed", "aggregator_upload_error",
			logging.String("job", job.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check aggregator credentials and the job's records, then set the job to ready_for_aggregator again"),
		)
		if setErr := p.store.SetJobStatus(ctx, job.ID, store.JobAggregatorUploadError); setErr != nil {
			return "", setErr
		}
		p.notify(ctx, notifications.EventAggregatorFailed, notifications.Payload{"job": job.Name, "error": err})
		return store.JobAggregatorUploadError, errHandled{err}
	}

	pkgs, err := p.store.PackagesForJob(ctx, job.ID)
	if err != nil {
		return "", err
	}
	coll, err := aggregator.BuildCollection(job.Name, pkgs)
	if err != nil {
		return fail(err)
	}
	path, err := aggregator.WriteCollection(p.cfg.Paths.AggregatorDir, coll)
	if err != nil {
		return fail(err)
	}
	if p.deps.Aggregator == nil {
		return fail(services.Wrap(services.ErrConfiguration, "publisher", "aggregator", "no aggregator transport configured", nil))
	}
	if err := p.deps.Aggregator.Send(ctx, coll.FileName, coll.Reader()); err != nil {
		return fail(err)
	}
	if err := p.store.SetJobStatus(ctx, job.ID, store.JobWaitingOnAggregator); err != nil {
		return "", err
	}
	logger.Info("collection sent to aggregator",
		logging.String("job", job.Name),
		logging.String("file", path),
		logging.Int("records", coll.Records),
	)
	p.notify(ctx, notifications.EventAggregatorSubmitted, notifications.Payload{
		"job":          job.Name,
		"file_name":    coll.FileName,
		"file_size":    strconv.Itoa(len(coll.Data)),
		"record_count": strconv.Itoa(coll.Records),
		"notify":       p.cfg.Mail.From,
	})
	return store.JobWaitingOnAggregator, nil
}

func (p *Publisher) mustGetJob(ctx context.Context, jobID int64) (*store.Job, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "publisher", "load job", strconv.FormatInt(jobID, 10), nil)
	}
	return job, nil
}

func (p *Publisher) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := p.deps.Notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "recipients were not told about this event"),
		)
	}
}
