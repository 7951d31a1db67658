package rewardd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends accepted by the storage.backend setting.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
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
	raw := strings.TrimSpace(value.Value)
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

// Config captures the runtime configuration for rewardd.
type Config struct {
	ListenAddress    string          `yaml:"listen"`
	ParamsPath       string          `yaml:"params"`
	Environment      string          `yaml:"environment"`
	SnapshotInterval Duration        `yaml:"snapshot_interval"`
	Storage          StorageConfig   `yaml:"storage"`
	Audit            AuditConfig     `yaml:"audit"`
	Auth             AuthConfig      `yaml:"auth"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
	Log              LogConfig       `yaml:"log"`
}

// StorageConfig selects the persistent state backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

// AuditConfig points the audit event log at a database. An empty DSN keeps
// the log in an in-memory sqlite database.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig throttles mutating calls per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
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
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth secret: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (a *AuthConfig) normalise() error {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	path := strings.TrimSpace(a.HMACSecretFile)
	if a.HMACSecret != "" || path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read hmac_secret_file: %w", err)
	}
	a.HMACSecret = strings.TrimSpace(string(data))
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = "services/rewardd/params.toml"
	}
	if cfg.SnapshotInterval.Duration == 0 {
		cfg.SnapshotInterval.Duration = time.Minute
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendLevelDB
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data/rewardd"
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Storage.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("storage backend %q not supported", cfg.Storage.Backend)
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth hmac secret must be configured")
	}
	if len(cfg.Auth.HMACSecret) < 16 {
		return fmt.Errorf("auth hmac secret must be at least 16 bytes")
	}
	if cfg.SnapshotInterval.Duration < time.Second {
		return fmt.Errorf("snapshot_interval must be at least 1s")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0,1]")
	}
	return nil
}
