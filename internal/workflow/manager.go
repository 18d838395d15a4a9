package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"digipub/internal/config"
	"digipub/internal/logging"
	"digipub/internal/services"
)

// PassFunc runs one pass and returns a short human summary.
type PassFunc func(ctx context.Context) (string, error)

// Pass is a named unit of periodic work. An empty Spec registers the pass
// for manual runs only.
type Pass struct {
	Name string
	Spec string
	Run  PassFunc
}

// PassStatus captures the most recent outcome of a pass.
type PassStatus struct {
	Name      string        `json:"name"`
	Spec      string        `json:"spec,omitempty"`
	Running   bool          `json:"running"`
	LastRun   time.Time     `json:"last_run"`
	Duration  time.Duration `json:"duration"`
	Summary   string        `json:"summary,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Next      time.Time     `json:"next"`
}

// Manager schedules and runs passes.
type Manager struct {
	logger  *slog.Logger
	lockDir string

	mu      sync.RWMutex
	passes  map[string]Pass
	order   []string
	status  map[string]*PassStatus
	entries map[string]cron.EntryID
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewManager constructs a manager whose pass locks live under the state directory.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	lockDir := ""
	if cfg != nil && cfg.Paths.StateDir != "" {
		lockDir = filepath.Join(cfg.Paths.StateDir, "locks")
	}
	return &Manager{
		logger:  logging.NewComponentLogger(logger, "workflow"),
		lockDir: lockDir,
		passes:  make(map[string]Pass),
		status:  make(map[string]*PassStatus),
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds a pass. Registering a name twice is an error.
func (m *Manager) Register(pass Pass) error {
	name := strings.TrimSpace(pass.Name)
	if name == "" || pass.Run == nil {
		return errors.New("workflow: pass requires a name and a run function")
	}
	if spec := strings.TrimSpace(pass.Spec); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("workflow: pass %s: %w", name, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.passes[name]; exists {
		return fmt.Errorf("workflow: pass %s already registered", name)
	}
	pass.Name = name
	m.passes[name] = pass
	m.order = append(m.order, name)
	m.status[name] = &PassStatus{Name: name, Spec: pass.Spec}
	return nil
}

// Start schedules every pass that has a spec.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger{logger: m.logger})))
	runCtx, cancel := context.WithCancel(ctx)
	scheduled := 0
	for _, name := range m.order {
		pass := m.passes[name]
		if strings.TrimSpace(pass.Spec) == "" {
			continue
		}
		id, err := scheduler.AddFunc(pass.Spec, func() { m.scheduled(runCtx, name) })
		if err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		m.entries[name] = id
		scheduled++
	}
	if scheduled == 0 {
		cancel()
		return errors.New("workflow: no passes scheduled")
	}
	scheduler.Start()
	m.cron = scheduler
	m.cancel = cancel
	m.running = true
	m.logger.Info("workflow started", logging.Int("passes", scheduled))
	return nil
}

// Stop cancels in-flight passes and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	scheduler, cancel := m.cron, m.cancel
	m.running = false
	m.cron = nil
	m.cancel = nil
	m.entries = make(map[string]cron.EntryID)
	m.mu.Unlock()

	cancel()
	<-scheduler.Stop().Done()
	m.logger.Info("workflow stopped")
}

func (m *Manager) scheduled(ctx context.Context, name string) {
	if _, err := m.RunNow(ctx, name); err != nil {
		if errors.Is(err, services.ErrConflict) {
			m.logger.Info("pass skipped; previous run still active", logging.String(logging.FieldPass, name))
		}
	}
}

// RunNow runs the named pass immediately under its lock. A pass already
// running elsewhere yields services.ErrConflict.
func (m *Manager) RunNow(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	pass, ok := m.passes[name]
	m.mu.RUnlock()
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "workflow", "run pass", fmt.Sprintf("unknown pass %q", name), nil)
	}

	release, err := m.acquire(name)
	if err != nil {
		return "", err
	}
	defer release()

	ctx = services.WithPass(ctx, name)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)

	started := time.Now()
	m.update(name, func(s *PassStatus) { s.Running = true })
	logger.Debug("pass started")

	summary, runErr := pass.Run(ctx)
	elapsed := time.Since(started)
	m.update(name, func(s *PassStatus) {
		s.Running = false
		s.LastRun = started
		s.Duration = elapsed
		s.Summary = summary
		s.LastError = ""
		if runErr != nil {
			s.LastError = runErr.Error()
		}
	})

	if runErr != nil {
		logging.ErrorWithContext(logger, "pass failed", "pass_failed",
			logging.Error(runErr),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldErrorHint, "the pass runs again on its next schedule"),
		)
		return summary, runErr
	}
	logger.Info("pass finished", logging.String("summary", summary), logging.Duration("duration", elapsed))
	return summary, nil
}

func (m *Manager) acquire(name string) (func(), error) {
	if m.lockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(m.lockDir, name+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConflict, "workflow", "run pass", fmt.Sprintf("pass %s already running", name), nil)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("release pass lock failed", logging.String(logging.FieldPass, name), logging.Error(err))
		}
	}, nil
}

func (m *Manager) update(name string, fn func(*PassStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.status[name]; s != nil {
		fn(s)
	}
}

// Status returns a snapshot of every registered pass, sorted by name.
func (m *Manager) Status() []PassStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PassStatus, 0, len(m.status))
	for name, s := range m.status {
		snapshot := *s
		if id, ok := m.entries[name]; ok && m.cron != nil {
			snapshot.Next = m.cron.Entry(id).Next
		}
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Running reports whether the scheduler is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
