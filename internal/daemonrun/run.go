// Package daemonrun assembles and runs the digipub daemon process.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"digipub/internal/api"
	"digipub/internal/config"
	"digipub/internal/daemon"
	"digipub/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the digipub daemon and blocks until SIGINT, SIGTERM or
// cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logDir := cfg.LogDir()
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(logDir, fmt.Sprintf("digipubd-%s.log", runID))

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(logDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update digipubd.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, logging.RunLogPolicy{
		Dir:           logDir,
		Pattern:       "digipubd-*.log",
		Current:       logPath,
		RetentionDays: cfg.Logging.RetentionDays,
		CompressAfter: 24 * time.Hour,
	}, time.Now())
	logCollaboratorSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "digipubd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	svc, err := api.Open(cfg, logger)
	if err != nil {
		logger.Error("open services", logging.Error(err))
		return err
	}
	defer svc.Close()

	d, err := daemon.New(svc, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file and schedule configuration"),
		)
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("digipub daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "digipubd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logCollaboratorSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("collaborator snapshot",
		logging.String(logging.FieldEventType, "collaborator_snapshot"),
		logging.String("ingest_root", cfg.Paths.IngestRoot),
		logging.String("catalog_url", cfg.Catalog.LookupURL),
		logging.Bool("catalog_update_configured", strings.TrimSpace(cfg.Catalog.UpdateURL) != ""),
		logging.String("pid_service", cfg.PID.BaseURL),
		logging.String("partner_endpoint", cfg.Partner.Endpoint),
		logging.String("partner_bucket", cfg.Partner.Bucket),
		logging.Bool("aggregator_configured", strings.TrimSpace(cfg.Aggregator.Address) != ""),
		logging.Bool("mail_configured", strings.TrimSpace(cfg.Mail.SMTPHost) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("publish_queue", cfg.PublishQueueEnabled()),
		logging.Int("max_attempts", cfg.Publish.MaxAttempts),
	)
}
