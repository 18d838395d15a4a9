package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
)

// RunLogPolicy describes how past daemon run logs are kept. Logs older than
// CompressAfter are gzipped in place; logs and archives older than
// RetentionDays are removed. Zero values disable the matching step.
type RunLogPolicy struct {
	Dir           string
	Pattern       string
	Current       string
	RetentionDays int
	CompressAfter time.Duration
}

// PruneRunLogs applies policy and returns how many files were compressed and
// removed. Failures on individual files are logged and skipped.
func PruneRunLogs(logger *slog.Logger, policy RunLogPolicy, now time.Time) (compressed, removed int) {
	if policy.Dir == "" || policy.Pattern == "" {
		return 0, 0
	}
	current, _ := filepath.Abs(policy.Current)

	matches, err := filepath.Glob(filepath.Join(policy.Dir, policy.Pattern))
	if err != nil {
		return 0, 0
	}
	archives, _ := filepath.Glob(filepath.Join(policy.Dir, policy.Pattern+".gz"))
	candidates := append(matches, archives...)
	sort.Strings(candidates)

	var cutoff time.Time
	if policy.RetentionDays > 0 {
		cutoff = now.AddDate(0, 0, -policy.RetentionDays)
	}

	for _, path := range candidates {
		if abs, err := filepath.Abs(path); err == nil && abs == current {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		switch {
		case !cutoff.IsZero() && info.ModTime().Before(cutoff):
			if err := os.Remove(path); err != nil {
				retentionFailed(logger, path, "remove", err)
				continue
			}
			removed++
			if logger != nil {
				logger.Info("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
			}
		case policy.CompressAfter > 0 && filepath.Ext(path) != ".gz" && now.Sub(info.ModTime()) > policy.CompressAfter:
			if err := gzipFile(path, info.ModTime()); err != nil {
				retentionFailed(logger, path, "compress", err)
				continue
			}
			compressed++
		}
	}
	return compressed, removed
}

func retentionFailed(logger *slog.Logger, path, op string, err error) {
	WarnWithContext(logger, "log retention "+op+" failed; file left as is", "log_retention_failed",
		String("path", path),
		Error(err),
		String(FieldErrorHint, "check file permissions under state_dir/logs"),
		String(FieldImpact, "old log file remains on disk"),
	)
}

// gzipFile replaces path with path.gz, preserving the modification time so
// the archive ages out on the original schedule.
func gzipFile(path string, modTime time.Time) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	target := path + ".gz"
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(path)
	zw.ModTime = modTime
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(target)
		return fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(target)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(target)
		return err
	}
	if err := os.Chtimes(target, modTime, modTime); err != nil {
		return err
	}
	return os.Remove(path)
}
