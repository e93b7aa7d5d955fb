// Package config loads application configuration from YAML and the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "REWARDSPRO_CONFIG"

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config is the full application configuration.
type Config struct {
	Environment string `yaml:"environment"`
	ServiceName string `yaml:"service_name"`

	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Commerce  CommerceConfig  `yaml:"commerce"`
	Sync      SyncConfig      `yaml:"sync"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type HTTPConfig struct {
	Addr           string `yaml:"addr"`
	WebhookRPM     int    `yaml:"webhook_rpm"`
	TrustedProxies string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// CommerceConfig configures the external store-credit platform client.
type CommerceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig controls balance reconciliation against the commerce platform.
type SyncConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Staleness    time.Duration `yaml:"staleness"`
	Concurrency  int64         `yaml:"concurrency"`
	BatchSize    int           `yaml:"batch_size"`
	EpsilonCents int64         `yaml:"epsilon_cents"`
}

// SchedulerConfig controls the membership expiry worker.
type SchedulerConfig struct {
	RevertInterval time.Duration `yaml:"revert_interval"`
	BatchSize      int           `yaml:"batch_size"`
}

type TracingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ExporterEndpoint string  `yaml:"exporter_endpoint"`
	ExporterProtocol string  `yaml:"exporter_protocol"`
	SamplingRatio    float64 `yaml:"sampling_ratio"`
	ServiceVersion   string  `yaml:"service_version"`
}

// Load reads the config file named by REWARDSPRO_CONFIG (optional) and applies
// environment overrides and defaults.
func Load() (Config, error) {
	cfg := Config{}

	path := strings.TrimSpace(os.Getenv(envConfigPath))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg.withDefaults(), nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ENVIRONMENT")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DRIVER")); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("COMMERCE_BASE_URL")); v != "" {
		cfg.Commerce.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COMMERCE_TOKEN")); v != "" {
		cfg.Commerce.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("SYNC_CONCURRENCY")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			cfg.Sync.Concurrency = parsed
		}
	}
}

func (c Config) withDefaults() Config {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.ServiceName == "" {
		c.ServiceName = "rewardspro"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.WebhookRPM <= 0 {
		c.HTTP.WebhookRPM = 600
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Commerce.Timeout <= 0 {
		c.Commerce.Timeout = 10 * time.Second
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Sync.Staleness <= 0 {
		c.Sync.Staleness = time.Hour
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 4
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.EpsilonCents <= 0 {
		c.Sync.EpsilonCents = 1
	}
	if c.Scheduler.RevertInterval <= 0 {
		c.Scheduler.RevertInterval = 5 * time.Minute
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 50
	}
	if c.Tracing.SamplingRatio <= 0 {
		c.Tracing.SamplingRatio = 0.1
	}
	return c
}

// IsProduction reports whether the app runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
