package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"digipub/internal/config"
)

func writeConfig(t *testing.T, cfg config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig(root string) config.Config {
	cfg := config.Default()
	cfg.Paths.IngestRoot = root
	cfg.Paths.StateDir = filepath.Join(root, "state")
	cfg.Catalog.LookupURL = "https://catalog.example.edu/api/records/"
	cfg.PID.BaseURL = "https://pid.example.edu"
	cfg.Partner.Endpoint = "s3.example.org"
	cfg.Partner.Bucket = "ingest"
	cfg.Partner.AccessKey = "access"
	cfg.Partner.SecretKey = "secret"
	cfg.Partner.PublicURLStub = "https://partner.example.org/pt?id=emu."
	return cfg
}

func TestLoadDerivesWorkingDirectories(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, validConfig(root))

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s to be used, got %q exists=%v", path, resolved, exists)
	}
	if cfg.Paths.ProcessDir != filepath.Join(root, "HT") {
		t.Fatalf("unexpected process dir: %q", cfg.Paths.ProcessDir)
	}
	if cfg.Paths.AggregatorDir != filepath.Join(root, "Zephir") {
		t.Fatalf("unexpected aggregator dir: %q", cfg.Paths.AggregatorDir)
	}
	if cfg.Catalog.LookupURL != "https://catalog.example.edu/api/records" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Catalog.LookupURL)
	}
	if cfg.Catalog.LocalURL != cfg.Catalog.LookupURL {
		t.Fatalf("expected local url to default to lookup url, got %q", cfg.Catalog.LocalURL)
	}
	if cfg.Publish.MaxAttempts != 5 {
		t.Fatalf("expected default attempt bound 5, got %d", cfg.Publish.MaxAttempts)
	}
	if cfg.DatabasePath() != filepath.Join(root, "state", "digipub.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestExcludedPathsResolveAgainstIngestRoot(t *testing.T) {
	root := t.TempDir()
	base := validConfig(root)
	base.Paths.ExcludeDirs = []string{"out_of_scope", " ", "/elsewhere/skip"}
	cfg, _, _, err := config.Load(writeConfig(t, base))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	got := cfg.ExcludedPaths()
	want := []string{filepath.Join(root, "out_of_scope"), "/elsewhere/skip", filepath.Join(root, "HT")}
	if len(got) != len(want) {
		t.Fatalf("unexpected excluded paths: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("excluded[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadFailsFastWithoutIngestRoot(t *testing.T) {
	base := validConfig(t.TempDir())
	base.Paths.IngestRoot = ""
	_, _, _, err := config.Load(writeConfig(t, base))
	if err == nil || !strings.Contains(err.Error(), "paths.ingest_root") {
		t.Fatalf("expected ingest root error, got %v", err)
	}
}

func TestLoadFailsFastWithoutPartnerCredentials(t *testing.T) {
	t.Setenv("DIGIPUB_PARTNER_ACCESS_KEY", "")
	t.Setenv("DIGIPUB_PARTNER_SECRET_KEY", "")
	base := validConfig(t.TempDir())
	base.Partner.SecretKey = ""
	_, _, _, err := config.Load(writeConfig(t, base))
	if err == nil || !strings.Contains(err.Error(), "partner.access_key") {
		t.Fatalf("expected partner credential error, got %v", err)
	}
}

func TestPartnerCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("DIGIPUB_PARTNER_ACCESS_KEY", "env-access")
	t.Setenv("DIGIPUB_PARTNER_SECRET_KEY", "env-secret")
	base := validConfig(t.TempDir())
	base.Partner.AccessKey = ""
	base.Partner.SecretKey = ""
	cfg, _, _, err := config.Load(writeConfig(t, base))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Partner.AccessKey != "env-access" || cfg.Partner.SecretKey != "env-secret" {
		t.Fatalf("expected env credentials, got %q/%q", cfg.Partner.AccessKey, cfg.Partner.SecretKey)
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	base := validConfig(t.TempDir())
	base.Schedule.Scan = "every now and then"
	_, _, _, err := config.Load(writeConfig(t, base))
	if err == nil || !strings.Contains(err.Error(), "schedule.scan") {
		t.Fatalf("expected schedule error, got %v", err)
	}
}

func TestValidateRejectsBadIDPattern(t *testing.T) {
	base := validConfig(t.TempDir())
	base.Packages.IDPattern = "^[0-9"
	_, _, _, err := config.Load(writeConfig(t, base))
	if err == nil || !strings.Contains(err.Error(), "packages.id_pattern") {
		t.Fatalf("expected id pattern error, got %v", err)
	}
}

func TestCreateSampleIsParseable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Publish.MaxAttempts != 5 {
		t.Fatalf("unexpected sample max attempts %d", cfg.Publish.MaxAttempts)
	}
}

func TestEnsureDirectoriesCreatesStateAndWorkDirs(t *testing.T) {
	root := t.TempDir()
	cfg, _, _, err := config.Load(writeConfig(t, validConfig(root)))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.LogDir(), cfg.Paths.ProcessDir, cfg.Paths.AggregatorDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}
}
