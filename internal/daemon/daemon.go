package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/hibiken/asynq"

	"digipub/internal/api"
	"digipub/internal/logging"
	"digipub/internal/preflight"
	"digipub/internal/tasks"
	"digipub/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	svc    *api.Service
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock
	worker   *asynq.Server

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Worker       bool
	Passes       []workflow.PassStatus
	DatabasePath string
	LockFilePath string
}

// New constructs a daemon around a wired service.
func New(svc *api.Service, logger *slog.Logger) (*Daemon, error) {
	if svc == nil || svc.Config == nil || svc.Workflow == nil {
		return nil, errors.New("daemon requires a wired service")
	}
	lockPath := svc.Config.LockPath()
	return &Daemon{
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, logs readiness, and launches the scheduler
// and the publish worker.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another digipub daemon instance is already running")
	}

	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.svc.Config, preflight.Probes{})) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "passes that need this resource will fail"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.svc.Workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	if d.svc.Config.PublishQueueEnabled() {
		worker := tasks.NewServer(d.svc.Config.Queue, d.logger)
		if err := worker.Start(tasks.NewMux(tasks.NewHandler(d.svc.Publisher, d.logger))); err != nil {
			d.svc.Workflow.Stop()
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start publish worker: %w", err)
		}
		d.worker = worker
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("digipub daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("publish_worker", d.worker != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.worker != nil {
		d.worker.Shutdown()
		d.worker = nil
	}
	d.svc.Workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("digipub daemon stopped")
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		Worker:       d.worker != nil,
		Passes:       d.svc.Workflow.Status(),
		DatabasePath: d.svc.Store.Path(),
		LockFilePath: d.lockPath,
	}
}
