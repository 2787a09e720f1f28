package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/Neno73/promidata-sync/pkg/config"
	pkgerrors "github.com/Neno73/promidata-sync/pkg/errors"
)

// Config holds all configuration for the sync engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP control surface
	HTTPPort   int    `env:"HTTP_PORT" envDefault:"8040"`
	AdminToken string `env:"ADMIN_TOKEN" envDefault:""`

	// Upstream feed
	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL"`

	// Relational store
	DBDSN string `env:"DB_DSN"`

	// Queue + lock store; rediss:// enables TLS.
	RedisURL string `env:"REDIS_URL"`

	// Object store (S3-compatible)
	ObjectStoreAccessKey string `env:"OBJECT_STORE_ACCESS_KEY"`
	ObjectStoreSecret    string `env:"OBJECT_STORE_SECRET"`
	ObjectStoreBucket    string `env:"OBJECT_STORE_BUCKET"`
	ObjectStoreEndpoint  string `env:"OBJECT_STORE_ENDPOINT"`
	ObjectStorePublicURL string `env:"OBJECT_STORE_PUBLIC_URL"`

	// Downstream sinks
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	ElasticsearchURL string   `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	SemanticStoreURL string   `env:"SEMANTIC_STORE_URL" envDefault:""`
	SemanticStoreKey string   `env:"SEMANTIC_STORE_API_KEY" envDefault:""`

	// Worker concurrency. Supplier concurrency is fixed at 1.
	ConcurrencyFamilies int `env:"CONCURRENCY_FAMILIES" envDefault:"3"`
	ConcurrencyImages   int `env:"CONCURRENCY_IMAGES" envDefault:"10"`

	// Per-queue job timeouts.
	TimeoutSupplierMS int `env:"TIMEOUT_SUPPLIER_MS" envDefault:"1800000"`
	TimeoutFamilyMS   int `env:"TIMEOUT_FAMILY_MS" envDefault:"300000"`
	TimeoutImageMS    int `env:"TIMEOUT_IMAGE_MS" envDefault:"120000"`

	// Lock and stop sentinel TTLs.
	LockTTLMS int `env:"LOCK_TTL_MS" envDefault:"3600000"`
	StopTTLMS int `env:"STOP_TTL_MS" envDefault:"300000"`
}

// Load reads configuration from environment variables and validates the
// required settings.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load sync engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return &pkgerrors.ConfigError{Name: "UPSTREAM_BASE_URL", Reason: "is required"}
	}
	if c.DBDSN == "" {
		return &pkgerrors.ConfigError{Name: "DB_DSN", Reason: "is required"}
	}
	if c.RedisURL == "" {
		return &pkgerrors.ConfigError{Name: "REDIS_URL", Reason: "is required"}
	}
	for name, value := range map[string]string{
		"OBJECT_STORE_ACCESS_KEY": c.ObjectStoreAccessKey,
		"OBJECT_STORE_SECRET":     c.ObjectStoreSecret,
		"OBJECT_STORE_BUCKET":     c.ObjectStoreBucket,
		"OBJECT_STORE_ENDPOINT":   c.ObjectStoreEndpoint,
		"OBJECT_STORE_PUBLIC_URL": c.ObjectStorePublicURL,
	} {
		if value == "" {
			return &pkgerrors.ConfigError{Name: name, Reason: "is required"}
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &pkgerrors.ConfigError{Name: "LOG_LEVEL", Reason: "must be one of debug, info, warn, error"}
	}
	if c.ConcurrencyFamilies < 1 {
		return &pkgerrors.ConfigError{Name: "CONCURRENCY_FAMILIES", Reason: "must be at least 1"}
	}
	if c.ConcurrencyImages < 1 {
		return &pkgerrors.ConfigError{Name: "CONCURRENCY_IMAGES", Reason: "must be at least 1"}
	}
	return nil
}

// ManifestURL returns the URL of the global import manifest.
func (c *Config) ManifestURL() string {
	return strings.TrimRight(c.UpstreamBaseURL, "/") + "/Import/Import.txt"
}

// TimeoutSupplier returns the supplier-sync job timeout.
func (c *Config) TimeoutSupplier() time.Duration {
	return time.Duration(c.TimeoutSupplierMS) * time.Millisecond
}

// TimeoutFamily returns the product-family job timeout.
func (c *Config) TimeoutFamily() time.Duration {
	return time.Duration(c.TimeoutFamilyMS) * time.Millisecond
}

// TimeoutImage returns the image-upload job timeout.
func (c *Config) TimeoutImage() time.Duration {
	return time.Duration(c.TimeoutImageMS) * time.Millisecond
}

// LockTTL returns the distributed lock TTL.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// StopTTL returns the stop sentinel TTL.
func (c *Config) StopTTL() time.Duration {
	return time.Duration(c.StopTTLMS) * time.Millisecond
}
