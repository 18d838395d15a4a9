package testsupport

import (
	"path/filepath"
	"testing"

	"digipub/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every required field is filled so the result passes Validate; collaborator
// URLs point at unroutable placeholders until a test overrides them.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.IngestRoot = filepath.Join(base, "ingest")
	cfgVal.Paths.ProcessDir = filepath.Join(base, "ingest", "HT")
	cfgVal.Paths.AggregatorDir = filepath.Join(base, "ingest", "Zephir")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Catalog.LookupURL = "http://catalog.invalid/get_bibrecord"
	cfgVal.Catalog.LocalURL = "http://catalog.invalid/get_local_bibrecord"
	cfgVal.PID.BaseURL = "http://pid.invalid"
	cfgVal.Partner.Endpoint = "partner.invalid:9000"
	cfgVal.Partner.Bucket = "ingest"
	cfgVal.Partner.AccessKey = "access"
	cfgVal.Partner.SecretKey = "secret"
	cfgVal.Partner.PublicURLStub = "http://partner.invalid/cgi/pt?id=emu."
	cfgVal.Publish.RetryDelaySeconds = 0
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithCatalogURL points record lookups (remote and local mirror) at url.
func WithCatalogURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.LookupURL = url
		b.cfg.Catalog.LocalURL = url
	}
}

// WithMaxAttempts overrides the publication attempt bound.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Publish.MaxAttempts = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
