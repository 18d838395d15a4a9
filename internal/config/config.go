package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	IngestRoot    string   `toml:"ingest_root"`
	ProcessDir    string   `toml:"process_dir"`
	AggregatorDir string   `toml:"aggregator_dir"`
	StateDir      string   `toml:"state_dir"`
	ExcludeDirs   []string `toml:"exclude_dirs"`
}

// Packages contains the rules used to recognize and describe package directories.
type Packages struct {
	IDPattern     string `toml:"id_pattern"`
	BarcodeLength int    `toml:"barcode_length"`
	ScannerUser   string `toml:"scanner_user"`
	ScanningOrder string `toml:"scanning_order"`
	ReadingOrder  string `toml:"reading_order"`
}

// Catalog contains configuration for the institutional catalog services.
type Catalog struct {
	LookupURL           string   `toml:"lookup_url"`
	LocalURL            string   `toml:"local_url"`
	UpdateURL           string   `toml:"update_url"`
	APIKey              string   `toml:"api_key"`
	RequestTimeout      int      `toml:"request_timeout"`
	LegacyPrefix        string   `toml:"legacy_prefix"`
	CrossrefPrefix      string   `toml:"crossref_prefix"`
	StripTags           []string `toml:"strip_tags"`
	PermanenceStatement string   `toml:"permanence_statement"`
}

// PID contains configuration for the persistent identifier service.
type PID struct {
	BaseURL        string `toml:"base_url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Domain         string `toml:"domain"`
	LinkBase       string `toml:"link_base"`
	Qualifier      string `toml:"qualifier"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Partner contains configuration for the preservation partner object store.
type Partner struct {
	Endpoint       string   `toml:"endpoint"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	Bucket         string   `toml:"bucket"`
	Region         string   `toml:"region"`
	UseSSL         bool     `toml:"use_ssl"`
	PublicURLStub  string   `toml:"public_url_stub"`
	LinkLabel      string   `toml:"link_label"`
	Contacts       []string `toml:"contacts"`
	RequestTimeout int      `toml:"request_timeout"`
}

// Aggregator contains configuration for the cataloging aggregator FTPS drop.
type Aggregator struct {
	Address     string `toml:"address"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	UploadDir   string `toml:"upload_dir"`
	ReportDir   string `toml:"report_dir"`
	ExplicitTLS bool   `toml:"explicit_tls"`
	Contact     string `toml:"contact"`
	Timeout     int    `toml:"timeout"`
}

// Publish contains configuration for batch publication.
type Publish struct {
	MaxAttempts       int      `toml:"max_attempts"`
	RetryDelaySeconds int      `toml:"retry_delay_seconds"`
	Managers          []string `toml:"managers"`
}

// Mail contains SMTP settings for operator and partner mail.
type Mail struct {
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Queue contains configuration for the redis-backed publish queue.
type Queue struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Concurrency   int    `toml:"concurrency"`
}

// Schedule contains cron specs for the daemon's periodic passes. An empty
// spec disables the pass.
type Schedule struct {
	Scan            string `toml:"scan"`
	PartnerCheck    string `toml:"partner_check"`
	AggregatorCheck string `toml:"aggregator_check"`
	Rollup          string `toml:"rollup"`
	CatalogCheck    string `toml:"catalog_check"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for digipub.
//
// Configuration sections by subsystem:
//   - Paths: ingest root, working directories and excluded subtrees
//   - Packages: package directory recognition and capture sidecar defaults
//   - Catalog: record lookup, local mirror, record update and rewrite rules
//   - PID: persistent identifier minting
//   - Partner: preservation partner object store and public URLs
//   - Aggregator: cataloging aggregator FTPS transfer and reports
//   - Publish: retry bound and escalation contacts
//   - Mail, Notifications: operator and partner messaging
//   - Queue: optional redis publish queue
//   - Schedule: daemon pass cadence
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Packages      Packages      `toml:"packages"`
	Catalog       Catalog       `toml:"catalog"`
	PID           PID           `toml:"pid"`
	Partner       Partner       `toml:"partner"`
	Aggregator    Aggregator    `toml:"aggregator"`
	Publish       Publish       `toml:"publish"`
	Mail          Mail          `toml:"mail"`
	Notifications Notifications `toml:"notifications"`
	Queue         Queue         `toml:"queue"`
	Schedule      Schedule      `toml:"schedule"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("digipub.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log, process and aggregator directories.
// The ingest root is never created; a missing ingest root is reported by the scan.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.LogDir(), c.Paths.ProcessDir, c.Paths.AggregatorDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogDir returns the directory holding daemon and CLI logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// DatabasePath returns the sqlite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "digipub.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "digipubd.lock")
}

// ExcludedPaths returns the absolute subtrees the scan must skip.
func (c *Config) ExcludedPaths() []string {
	out := make([]string, 0, len(c.Paths.ExcludeDirs)+1)
	for _, dir := range c.Paths.ExcludeDirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(c.Paths.IngestRoot, dir)
		}
		out = append(out, filepath.Clean(dir))
	}
	if c.Paths.ProcessDir != "" {
		out = append(out, filepath.Clean(c.Paths.ProcessDir))
	}
	return out
}

// PublishQueueEnabled reports whether publication is dispatched through redis.
func (c *Config) PublishQueueEnabled() bool {
	return strings.TrimSpace(c.Queue.RedisAddr) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
