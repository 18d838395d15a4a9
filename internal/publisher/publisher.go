package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"digipub/internal/aggregator"
	"digipub/internal/config"
	"digipub/internal/deliverable"
	"digipub/internal/logging"
	"digipub/internal/notifications"
	"digipub/internal/partner"
	"digipub/internal/services"
	"digipub/internal/store"
)

// Minter assigns persistent identifiers.
type Minter interface {
	Mint(ctx context.Context, name string) (string, error)
}

// Uploader delivers archives to the partner.
type Uploader interface {
	Upload(ctx context.Context, archivePath string, size int64, md5 string) (*partner.Receipt, error)
	Overwrite(ctx context.Context, existingID, archivePath string, size int64, md5 string) (*partner.Receipt, error)
}

// ArchiveBuilder assembles a package's deliverable archive.
type ArchiveBuilder interface {
	Build(ctx context.Context, pkg *store.Package) (*deliverable.Archive, error)
}

// Enqueuer hands a publication run to a background worker.
type Enqueuer interface {
	EnqueuePublish(ctx context.Context, jobID int64) error
}

// Deps collects the publisher's collaborators.
type Deps struct {
	Minter     Minter
	Uploader   Uploader
	Builder    ArchiveBuilder
	Aggregator aggregator.Transport
	Notifier   notifications.Service
	// Enqueuer, when set, receives publication runs instead of running
	// them inline.
	Enqueuer Enqueuer
}

// Publisher owns job transitions and publication runs.
type Publisher struct {
	cfg    *config.Config
	store  *store.Store
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	attempts map[int64]int
	running  map[int64]bool

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New wires a Publisher. A nil Builder uses a deliverable builder over the
// configured process directory.
func New(cfg *config.Config, st *store.Store, deps Deps, logger *slog.Logger) (*Publisher, error) {
	if cfg == nil || st == nil {
		return nil, services.Wrap(services.ErrConfiguration, "publisher", "init", "config and store are required", nil)
	}
	if cfg.Publish.MaxAttempts <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "publisher", "init", "publish.max_attempts must be positive", nil)
	}
	if deps.Builder == nil {
		deps.Builder = deliverable.NewBuilder(cfg.Paths.ProcessDir, logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(nil)
	}
	return &Publisher{
		cfg:      cfg,
		store:    st,
		deps:     deps,
		logger:   logging.NewComponentLogger(logger, "publisher"),
		attempts: make(map[int64]int),
		running:  make(map[int64]bool),
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

// SetEnqueuer routes later publication runs through e.
func (p *Publisher) SetEnqueuer(e Enqueuer) {
	p.mu.Lock()
	p.deps.Enqueuer = e
	p.mu.Unlock()
}

// Attempts returns the number of publication passes made for jobID by the
// current run in this process.
func (p *Publisher) Attempts(jobID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[jobID]
}

func (p *Publisher) enqueuer() Enqueuer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deps.Enqueuer
}

// claim marks jobID as running; it fails when a run is already in progress.
func (p *Publisher) claim(jobID int64) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[jobID] {
		return nil, services.Wrap(services.ErrConflict, "publisher", "publish", "job already publishing", nil)
	}
	p.running[jobID] = true
	p.attempts[jobID] = 0
	return func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
	}, nil
}

func (p *Publisher) recordPass(jobID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[jobID]++
	return p.attempts[jobID]
}

func (p *Publisher) retryDelay() time.Duration {
	return time.Duration(p.cfg.Publish.RetryDelaySeconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
