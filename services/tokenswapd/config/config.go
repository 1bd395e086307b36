package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for tokenswapd.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	DatabasePath   string          `yaml:"database"`
	StateDir       string          `yaml:"state_dir"`
	DeploymentPath string          `yaml:"deployment"`
	Oracle         OracleConfig    `yaml:"oracle"`
	RateLimits     RateLimitConfig `yaml:"rate_limits"`
	Log            LogConfig       `yaml:"log"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	TLS            TLSConfig       `yaml:"tls"`
}

// OracleConfig tunes the price polling loop.
type OracleConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// RateLimit is a token bucket for one route group.
type RateLimit struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// RateLimitConfig groups the per-route buckets.
type RateLimitConfig struct {
	Calls RateLimit `yaml:"calls"`
	Reads RateLimit `yaml:"reads"`
}

// LogConfig selects the log level and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// TLSConfig enables HTTPS when both paths are set.
type TLSConfig struct {
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// Enabled reports whether TLS material is configured.
func (t TLSConfig) Enabled() bool {
	return strings.TrimSpace(t.CertPath) != "" && strings.TrimSpace(t.KeyPath) != ""
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/tokenswapd.sqlite"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "/var/data/tokenswap-state"
	}
	if cfg.DeploymentPath == "" {
		cfg.DeploymentPath = "deployment.toml"
	}
	if cfg.Oracle.Endpoint == "" {
		cfg.Oracle.Endpoint = "https://hermes.pyth.network"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 10 * time.Second
	}
	if cfg.Oracle.Timeout.Duration == 0 {
		cfg.Oracle.Timeout.Duration = 5 * time.Second
	}
	if cfg.RateLimits.Calls.RatePerSecond == 0 {
		cfg.RateLimits.Calls = RateLimit{RatePerSecond: 5, Burst: 10}
	}
	if cfg.RateLimits.Reads.RatePerSecond == 0 {
		cfg.RateLimits.Reads = RateLimit{RatePerSecond: 20, Burst: 40}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.DeploymentPath) == "" {
		return fmt.Errorf("deployment path must be configured")
	}
	if cfg.Oracle.Interval.Duration < time.Second {
		return fmt.Errorf("oracle.interval must be at least 1s")
	}
	if cfg.Oracle.Timeout.Duration <= 0 || cfg.Oracle.Timeout.Duration > cfg.Oracle.Interval.Duration {
		return fmt.Errorf("oracle.timeout must be positive and no longer than oracle.interval")
	}
	if !strings.HasPrefix(cfg.Oracle.Endpoint, "http://") && !strings.HasPrefix(cfg.Oracle.Endpoint, "https://") {
		return fmt.Errorf("oracle.endpoint must be an http(s) URL")
	}
	for name, limit := range map[string]RateLimit{"calls": cfg.RateLimits.Calls, "reads": cfg.RateLimits.Reads} {
		if limit.RatePerSecond < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s must not be negative", name)
		}
	}
	if (cfg.TLS.CertPath == "") != (cfg.TLS.KeyPath == "") {
		return fmt.Errorf("tls.cert and tls.key must be configured together")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}
