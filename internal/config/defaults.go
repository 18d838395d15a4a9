package config

const (
	defaultConfigPath          = "~/.config/digipub/config.toml"
	defaultStateDir            = "~/.local/share/digipub"
	defaultIDPattern           = "^[0-9]"
	defaultBarcodeLength       = 12
	defaultScannerUser         = "Emory University: LITS Digitization Services"
	defaultReadingOrder        = "left-to-right"
	defaultRequestTimeout      = 30
	defaultLegacyPrefix        = "(Aleph)"
	defaultCrossrefPrefix      = "(GEU)Aleph"
	defaultPIDLinkBase         = "http://pid.emory.edu/ark:/25593/"
	defaultPIDQualifier        = "HT"
	defaultPartnerLinkLabel    = "HathiTrust version"
	defaultAggregatorTimeout   = 60
	defaultMaxAttempts         = 5
	defaultRetryDelaySeconds   = 30
	defaultSMTPPort            = 25
	defaultQueueConcurrency    = 1
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 60
	defaultPermanenceStatement = "The online edition of this book in the public domain, i.e., not protected by copyright, has been produced by the Emory University Digital library Publications Program."
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			ExcludeDirs: []string{"HT", "out_of_scope", "test"},
		},
		Packages: Packages{
			IDPattern:     defaultIDPattern,
			BarcodeLength: defaultBarcodeLength,
			ScannerUser:   defaultScannerUser,
			ScanningOrder: defaultReadingOrder,
			ReadingOrder:  defaultReadingOrder,
		},
		Catalog: Catalog{
			RequestTimeout:      defaultRequestTimeout,
			LegacyPrefix:        defaultLegacyPrefix,
			CrossrefPrefix:      defaultCrossrefPrefix,
			StripTags:           []string{"999"},
			PermanenceStatement: defaultPermanenceStatement,
		},
		PID: PID{
			LinkBase:       defaultPIDLinkBase,
			Qualifier:      defaultPIDQualifier,
			RequestTimeout: defaultRequestTimeout,
		},
		Partner: Partner{
			UseSSL:         true,
			LinkLabel:      defaultPartnerLinkLabel,
			RequestTimeout: defaultRequestTimeout,
		},
		Aggregator: Aggregator{
			ExplicitTLS: true,
			Timeout:     defaultAggregatorTimeout,
		},
		Publish: Publish{
			MaxAttempts:       defaultMaxAttempts,
			RetryDelaySeconds: defaultRetryDelaySeconds,
		},
		Mail: Mail{
			SMTPPort: defaultSMTPPort,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		Queue: Queue{
			Concurrency: defaultQueueConcurrency,
		},
		Schedule: Schedule{
			Scan:            "@every 1h",
			PartnerCheck:    "@every 6h",
			AggregatorCheck: "@every 1h",
			Rollup:          "@every 6h",
			CatalogCheck:    "@daily",
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
