package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePackages(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validatePID(); err != nil {
		return err
	}
	if err := c.validatePartner(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.IngestRoot == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("paths.ingest_root is required. Edit %s (create with 'digipub config init')", defaultPath)
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validatePackages() error {
	if _, err := regexp.Compile(c.Packages.IDPattern); err != nil {
		return fmt.Errorf("packages.id_pattern: %w", err)
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if err := requireURL("catalog.lookup_url", c.Catalog.LookupURL); err != nil {
		return err
	}
	if c.Catalog.UpdateURL != "" {
		if err := requireURL("catalog.update_url", c.Catalog.UpdateURL); err != nil {
			return err
		}
	}
	return ensurePositiveMap(map[string]int{
		"catalog.request_timeout": c.Catalog.RequestTimeout,
	})
}

func (c *Config) validatePID() error {
	if err := requireURL("pid.base_url", c.PID.BaseURL); err != nil {
		return err
	}
	if c.PID.LinkBase == "" {
		return errors.New("pid.link_base must be set")
	}
	return ensurePositiveMap(map[string]int{
		"pid.request_timeout": c.PID.RequestTimeout,
	})
}

func (c *Config) validatePartner() error {
	if c.Partner.Endpoint == "" {
		return errors.New("partner.endpoint is required")
	}
	if c.Partner.Bucket == "" {
		return errors.New("partner.bucket is required")
	}
	if c.Partner.AccessKey == "" || c.Partner.SecretKey == "" {
		return errors.New("partner.access_key and partner.secret_key are required (or set DIGIPUB_PARTNER_ACCESS_KEY / DIGIPUB_PARTNER_SECRET_KEY)")
	}
	if err := requireURL("partner.public_url_stub", c.Partner.PublicURLStub); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"partner.request_timeout": c.Partner.RequestTimeout,
	})
}

func (c *Config) validatePublish() error {
	if c.Publish.MaxAttempts <= 0 {
		return errors.New("publish.max_attempts must be positive")
	}
	if c.Publish.RetryDelaySeconds < 0 {
		return errors.New("publish.retry_delay_seconds must be >= 0")
	}
	if c.Queue.Concurrency <= 0 {
		return errors.New("queue.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	specs := map[string]string{
		"schedule.scan":             c.Schedule.Scan,
		"schedule.partner_check":    c.Schedule.PartnerCheck,
		"schedule.aggregator_check": c.Schedule.AggregatorCheck,
		"schedule.rollup":           c.Schedule.Rollup,
		"schedule.catalog_check":    c.Schedule.CatalogCheck,
	}
	for key, spec := range specs {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func requireURL(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
