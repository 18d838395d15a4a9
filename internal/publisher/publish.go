package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"digipub/internal/fileutil"
	"digipub/internal/logging"
	"digipub/internal/notifications"
	"digipub/internal/services"
	"digipub/internal/store"
)

// Result summarizes a publication run.
type Result struct {
	Job      string
	Status   store.JobStatus
	Attempts int
	Uploaded []string
	Failed   []string
}

// Publish runs a publication for jobID: prepare pending packages, then make
// upload passes until no package is waiting on a retry or the attempt bound
// is reached. The job ends in being_processed or upload_failed.
func (p *Publisher) Publish(ctx context.Context, jobID int64) (*Result, error) {
	release, err := p.claim(jobID)
	if err != nil {
		return nil, err
	}
	defer release()
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}

	job, err := p.mustGetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, p.logger)

	pkgs, err := p.store.PackagesForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "publisher", "publish", "job "+job.Name+" has no packages", nil)
	}
	if err := p.store.SetJobStatus(ctx, job.ID, store.JobUploading); err != nil {
		return nil, err
	}
	logger.Info("publication started", logging.String("job", job.Name), logging.Int("packages", len(pkgs)))

	for _, pkg := range pending(pkgs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.prepare(ctx, pkg)
	}

	maxAttempts := p.cfg.Publish.MaxAttempts
	var uploaded []string
	for {
		pass := p.Attempts(job.ID) + 1
		members, err := p.store.PackagesForJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pending(members) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if p.uploadPackage(ctx, pkg, pass, maxAttempts) {
				uploaded = append(uploaded, pkg.ID)
			}
		}
		attempts := p.recordPass(job.ID)

		members, err = p.store.PackagesForJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !hasStatus(members, store.PackageRetry) || attempts >= maxAttempts {
			break
		}
		if err := p.store.SetJobStatus(ctx, job.ID, store.JobRetry); err != nil {
			return nil, err
		}
		logger.Info("retrying publication",
			logging.String("job", job.Name),
			logging.Int("attempt", attempts),
			logging.Int("max_attempts", maxAttempts),
		)
		if err := p.sleep(ctx, p.retryDelay()); err != nil {
			return nil, err
		}
		if err := p.store.SetJobStatus(ctx, job.ID, store.JobUploading); err != nil {
			return nil, err
		}
	}
	return p.finish(ctx, job, uploaded)
}

func (p *Publisher) finish(ctx context.Context, job *store.Job, uploaded []string) (*Result, error) {
	logger := logging.WithContext(ctx, p.logger)
	members, err := p.store.PackagesForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	result := &Result{Job: job.Name, Attempts: p.Attempts(job.ID), Uploaded: uploaded}
	for _, pkg := range members {
		if pkg.Status == store.PackageUploadFailed {
			result.Failed = append(result.Failed, pkg.ID)
		}
	}

	if len(result.Failed) > 0 {
		result.Status = store.JobUploadFailed
		if err := p.store.SetJobStatus(ctx, job.ID, result.Status); err != nil {
			return nil, err
		}
		logging.ErrorWithContext(logger, "publication failed", "publish_failed",
			logging.String("job", job.Name),
			logging.Strings("failed", result.Failed),
			logging.Int("attempts", result.Attempts),
			logging.String(logging.FieldErrorHint, "read the package notes, fix the cause and set the job to retry"),
		)
		p.notify(ctx, notifications.EventBatchFailed, notifications.Payload{"job": job.Name, "packages": result.Failed})
		return result, nil
	}

	result.Status = store.JobBeingProcessed
	if err := p.store.SetJobStatus(ctx, job.ID, result.Status); err != nil {
		return nil, err
	}
	logger.Info("publication complete",
		logging.String("job", job.Name),
		logging.Int("uploaded", len(uploaded)),
		logging.Int("attempts", result.Attempts),
	)
	p.notify(ctx, notifications.EventBatchUploaded, notifications.Payload{"job": job.Name, "packages": uploaded})
	return result, nil
}

// prepare mints the package's identifier when missing and builds its
// archive. A failure marks the package upload_failed.
func (p *Publisher) prepare(ctx context.Context, pkg *store.Package) {
	ctx = services.WithPackageID(ctx, pkg.ID)
	logger := logging.WithContext(ctx, p.logger)

	if pkg.PID == "" {
		if p.deps.Minter == nil {
			p.fail(ctx, pkg, "no persistent identifier", services.Wrap(services.ErrConfiguration, "publisher", "mint", "no identifier service configured", nil))
			return
		}
		noid, err := p.deps.Minter.Mint(ctx, pkg.ID)
		if err != nil {
			p.fail(ctx, pkg, "could not mint a persistent identifier", err)
			return
		}
		pkg.PID = noid
		if err := p.store.UpdatePackage(ctx, pkg); err != nil {
			p.fail(ctx, pkg, "could not record the persistent identifier", err)
			return
		}
		logger.Info("persistent identifier minted", logging.String("pid", noid))
	}
	if _, err := p.deps.Builder.Build(ctx, pkg); err != nil {
		p.fail(ctx, pkg, "could not build the archive", err)
	}
}

// uploadPackage makes one upload attempt and records the outcome. It
// reports whether the package was uploaded.
func (p *Publisher) uploadPackage(ctx context.Context, pkg *store.Package, pass, maxAttempts int) bool {
	ctx = services.WithPackageID(ctx, pkg.ID)
	logger := logging.WithContext(ctx, p.logger)

	err := p.upload(ctx, pkg)
	switch {
	case err == nil:
		if setErr := p.store.SetPackageStatus(ctx, pkg.ID, store.PackageUploaded); setErr != nil {
			logging.ErrorWithContext(logger, "could not record upload", "store_failed", logging.Error(setErr))
			return false
		}
		logger.Info("package uploaded", logging.Int("attempt", pass))
		return true
	case services.IsRetryable(err) && pass < maxAttempts:
		logging.WarnWithContext(logger, "upload attempt failed", "upload_retry",
			logging.Int("attempt", pass),
			logging.Int("max_attempts", maxAttempts),
			logging.Error(err),
			logging.String(logging.FieldImpact, "package will be retried on the next pass"),
		)
		if setErr := p.store.SetPackageStatus(ctx, pkg.ID, store.PackageRetry); setErr != nil {
			logging.ErrorWithContext(logger, "could not record retry", "store_failed", logging.Error(setErr))
		}
	case services.IsRetryable(err):
		p.fail(ctx, pkg, fmt.Sprintf("upload failed after %d attempts", pass), err)
	default:
		p.fail(ctx, pkg, "upload failed", err)
	}
	return false
}

func (p *Publisher) upload(ctx context.Context, pkg *store.Package) error {
	if pkg.PID == "" {
		return services.Wrap(services.ErrValidation, "publisher", "upload", "package has no persistent identifier", nil)
	}
	if p.deps.Uploader == nil {
		return services.Wrap(services.ErrConfiguration, "publisher", "upload", "no partner transport configured", nil)
	}
	archivePath := pkg.ArchivePath(p.cfg.Paths.ProcessDir)
	info, err := os.Stat(archivePath)
	if errors.Is(err, os.ErrNotExist) {
		// A run interrupted by a restart may have lost its archive.
		if _, buildErr := p.deps.Builder.Build(ctx, pkg); buildErr != nil {
			return buildErr
		}
		info, err = os.Stat(archivePath)
	}
	if err != nil {
		return services.Wrap(services.ErrValidation, "publisher", "upload", "archive unavailable", err)
	}
	sum, err := fileutil.MD5File(archivePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "publisher", "upload", "hash archive", err)
	}

	_, err = p.deps.Uploader.Upload(ctx, archivePath, info.Size(), sum)
	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		logging.WithContext(ctx, p.logger).Info("partner already holds archive; overwriting",
			logging.String("object", conflict.ExistingID))
		_, err = p.deps.Uploader.Overwrite(ctx, conflict.ExistingID, archivePath, info.Size(), sum)
	}
	return err
}

// fail marks pkg upload_failed and appends a timestamped note.
func (p *Publisher) fail(ctx context.Context, pkg *store.Package, reason string, err error) {
	logger := logging.WithContext(ctx, p.logger)
	logging.ErrorWithContext(logger, reason, "upload_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "see the package notes"),
	)
	note := fmt.Sprintf("%s %s: %v\n", p.now().Format(time.RFC3339), reason, err)
	if noteErr := p.store.AppendPackageNotes(ctx, pkg.ID, note); noteErr != nil {
		logging.ErrorWithContext(logger, "could not append package note", "store_failed", logging.Error(noteErr))
	}
	if setErr := p.store.SetPackageStatus(ctx, pkg.ID, store.PackageUploadFailed); setErr != nil {
		logging.ErrorWithContext(logger, "could not record upload failure", "store_failed", logging.Error(setErr))
	}
	pkg.Status = store.PackageUploadFailed
}

// pending returns the members a publication pass still has to upload.
func pending(pkgs []*store.Package) []*store.Package {
	var out []*store.Package
	for _, pkg := range pkgs {
		if pkg.Status == store.PackageValid || pkg.Status == store.PackageRetry {
			out = append(out, pkg)
		}
	}
	return out
}

func hasStatus(pkgs []*store.Package, status store.PackageStatus) bool {
	for _, pkg := range pkgs {
		if pkg.Status == status {
			return true
		}
	}
	return false
}
