package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Bucket BucketConfig `koanf:"bucket"`
	Cache  CacheConfig  `koanf:"cache"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

// StoreConfig configures the key-value store client (DynamoDB or a
// compatible local endpoint).
type StoreConfig struct {
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"` // empty = AWS default resolution
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`

	Table           string `koanf:"table"`
	DeviceTimeIndex string `koanf:"device_time_index"`
	AdFilenameIndex string `koanf:"ad_filename_index"`
	QueryTimeout    string `koanf:"query_timeout"`
	MaxPages        int    `koanf:"max_pages"`
	RetryAttempts   int    `koanf:"retry_attempts"`
	RetryBackoff    string `koanf:"retry_backoff"`
}

// BucketConfig configures the object store holding ad media and screenshots.
type BucketConfig struct {
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	UseSSL          bool   `koanf:"use_ssl"`
	Region          string `koanf:"region"`

	Name             string `koanf:"name"`
	ScreenshotPrefix string `koanf:"screenshot_prefix"`
	ReservedPrefix   string `koanf:"reserved_prefix"` // excluded from device listings
	PresignTTL       string `koanf:"presign_ttl"`
}

// CacheConfig holds the two TTL classes of the in-memory aggregate cache.
// Per-device lookups are cheap to recompute; cross-device aggregates fan out
// over every device and get the longer TTL.
type CacheConfig struct {
	DeviceTTL    string `koanf:"device_ttl"`
	AggregateTTL string `koanf:"aggregate_ttl"`
}

func (c StoreConfig) QueryTimeoutDuration() time.Duration { return mustDuration(c.QueryTimeout) }
func (c StoreConfig) RetryBackoffDuration() time.Duration { return mustDuration(c.RetryBackoff) }
func (c BucketConfig) PresignTTLDuration() time.Duration  { return mustDuration(c.PresignTTL) }
func (c CacheConfig) DeviceTTLDuration() time.Duration    { return mustDuration(c.DeviceTTL) }
func (c CacheConfig) AggregateTTLDuration() time.Duration { return mustDuration(c.AggregateTTL) }

// mustDuration is safe after Validate has run.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Store.Region) == "" {
		return fmt.Errorf("store.region is required")
	}
	if strings.TrimSpace(c.Store.Table) == "" {
		return fmt.Errorf("store.table is required")
	}
	if c.Store.MaxPages <= 0 {
		return fmt.Errorf("store.max_pages must be > 0")
	}
	if c.Store.RetryAttempts < 0 {
		return fmt.Errorf("store.retry_attempts must be >= 0")
	}
	for key, val := range map[string]string{
		"store.query_timeout": c.Store.QueryTimeout,
		"store.retry_backoff": c.Store.RetryBackoff,
		"bucket.presign_ttl":  c.Bucket.PresignTTL,
		"cache.device_ttl":    c.Cache.DeviceTTL,
		"cache.aggregate_ttl": c.Cache.AggregateTTL,
	} {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, val, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}

	if strings.TrimSpace(c.Bucket.Endpoint) == "" {
		return fmt.Errorf("bucket.endpoint is required")
	}
	if strings.TrimSpace(c.Bucket.Name) == "" {
		return fmt.Errorf("bucket.name is required")
	}

	return nil
}

// Load parses config from defaults + file + env, then validates it.
// Environment variables use the ADSCOPE_ prefix with "__" as the nesting
// separator, e.g. ADSCOPE_STORE__TABLE=ad_metrics.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":              8080,
		"server.host":              "0.0.0.0",
		"server.mode":              "release",
		"store.region":             "us-east-1",
		"store.endpoint":           "",
		"store.table":              "ad_metrics",
		"store.device_time_index":  "device_id-timestamp-index",
		"store.ad_filename_index":  "ad_filename-timestamp-index",
		"store.query_timeout":      "10s",
		"store.max_pages":          50,
		"store.retry_attempts":     1,
		"store.retry_backoff":      "200ms",
		"bucket.endpoint":          "s3.amazonaws.com",
		"bucket.use_ssl":           true,
		"bucket.name":              "ad-media",
		"bucket.screenshot_prefix": "screenshots/",
		"bucket.reserved_prefix":   "ad_metrics",
		"bucket.presign_ttl":       "1h",
		"cache.device_ttl":         "30s",
		"cache.aggregate_ttl":      "60s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("ADSCOPE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ADSCOPE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
