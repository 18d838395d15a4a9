package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePackages()
	c.normalizeCatalog()
	c.normalizePID()
	c.normalizePartner()
	c.normalizeAggregator()
	c.normalizeMail()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.IngestRoot, err = expandPath(strings.TrimSpace(c.Paths.IngestRoot)); err != nil {
		return fmt.Errorf("paths.ingest_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ProcessDir) == "" && c.Paths.IngestRoot != "" {
		c.Paths.ProcessDir = filepath.Join(c.Paths.IngestRoot, "HT")
	}
	if c.Paths.ProcessDir, err = expandPath(c.Paths.ProcessDir); err != nil {
		return fmt.Errorf("paths.process_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AggregatorDir) == "" && c.Paths.IngestRoot != "" {
		c.Paths.AggregatorDir = filepath.Join(c.Paths.IngestRoot, "Zephir")
	}
	if c.Paths.AggregatorDir, err = expandPath(c.Paths.AggregatorDir); err != nil {
		return fmt.Errorf("paths.aggregator_dir: %w", err)
	}
	c.Paths.ExcludeDirs = trimList(c.Paths.ExcludeDirs)
	return nil
}

func (c *Config) normalizePackages() {
	c.Packages.IDPattern = strings.TrimSpace(c.Packages.IDPattern)
	if c.Packages.IDPattern == "" {
		c.Packages.IDPattern = defaultIDPattern
	}
	if c.Packages.BarcodeLength <= 0 {
		c.Packages.BarcodeLength = defaultBarcodeLength
	}
	c.Packages.ScannerUser = strings.TrimSpace(c.Packages.ScannerUser)
	if c.Packages.ScanningOrder = strings.TrimSpace(c.Packages.ScanningOrder); c.Packages.ScanningOrder == "" {
		c.Packages.ScanningOrder = defaultReadingOrder
	}
	if c.Packages.ReadingOrder = strings.TrimSpace(c.Packages.ReadingOrder); c.Packages.ReadingOrder == "" {
		c.Packages.ReadingOrder = defaultReadingOrder
	}
}

func (c *Config) normalizeCatalog() {
	c.Catalog.LookupURL = strings.TrimRight(strings.TrimSpace(c.Catalog.LookupURL), "/")
	c.Catalog.LocalURL = strings.TrimRight(strings.TrimSpace(c.Catalog.LocalURL), "/")
	if c.Catalog.LocalURL == "" {
		c.Catalog.LocalURL = c.Catalog.LookupURL
	}
	c.Catalog.UpdateURL = strings.TrimRight(strings.TrimSpace(c.Catalog.UpdateURL), "/")
	if c.Catalog.APIKey == "" {
		if value, ok := os.LookupEnv("DIGIPUB_CATALOG_API_KEY"); ok {
			c.Catalog.APIKey = strings.TrimSpace(value)
		}
	}
	c.Catalog.StripTags = trimList(c.Catalog.StripTags)
	c.Catalog.PermanenceStatement = strings.TrimSpace(c.Catalog.PermanenceStatement)
}

func (c *Config) normalizePID() {
	c.PID.BaseURL = strings.TrimRight(strings.TrimSpace(c.PID.BaseURL), "/")
	if c.PID.Password == "" {
		if value, ok := os.LookupEnv("DIGIPUB_PID_PASSWORD"); ok {
			c.PID.Password = value
		}
	}
	c.PID.LinkBase = strings.TrimSpace(c.PID.LinkBase)
	if c.PID.LinkBase != "" && !strings.HasSuffix(c.PID.LinkBase, "/") {
		c.PID.LinkBase += "/"
	}
	c.PID.Qualifier = strings.TrimSpace(c.PID.Qualifier)
}

func (c *Config) normalizePartner() {
	c.Partner.Endpoint = strings.TrimSpace(c.Partner.Endpoint)
	if c.Partner.AccessKey == "" {
		if value, ok := os.LookupEnv("DIGIPUB_PARTNER_ACCESS_KEY"); ok {
			c.Partner.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Partner.SecretKey == "" {
		if value, ok := os.LookupEnv("DIGIPUB_PARTNER_SECRET_KEY"); ok {
			c.Partner.SecretKey = strings.TrimSpace(value)
		}
	}
	c.Partner.Bucket = strings.TrimSpace(c.Partner.Bucket)
	c.Partner.PublicURLStub = strings.TrimSpace(c.Partner.PublicURLStub)
	if c.Partner.LinkLabel = strings.TrimSpace(c.Partner.LinkLabel); c.Partner.LinkLabel == "" {
		c.Partner.LinkLabel = defaultPartnerLinkLabel
	}
	c.Partner.Contacts = trimList(c.Partner.Contacts)
}

func (c *Config) normalizeAggregator() {
	c.Aggregator.Address = strings.TrimSpace(c.Aggregator.Address)
	if c.Aggregator.Password == "" {
		if value, ok := os.LookupEnv("DIGIPUB_AGGREGATOR_PASSWORD"); ok {
			c.Aggregator.Password = value
		}
	}
	c.Aggregator.UploadDir = strings.TrimSpace(c.Aggregator.UploadDir)
	c.Aggregator.ReportDir = strings.TrimSpace(c.Aggregator.ReportDir)
	c.Aggregator.Contact = strings.TrimSpace(c.Aggregator.Contact)
}

func (c *Config) normalizeMail() {
	c.Mail.SMTPHost = strings.TrimSpace(c.Mail.SMTPHost)
	c.Mail.From = strings.TrimSpace(c.Mail.From)
	if c.Mail.SMTPPort <= 0 {
		c.Mail.SMTPPort = defaultSMTPPort
	}
	c.Publish.Managers = trimList(c.Publish.Managers)
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
