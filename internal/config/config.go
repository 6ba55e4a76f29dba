// Package config loads the offline core configuration from a YAML file,
// applies defaults and environment overrides, and optionally watches the
// file for runtime tunable changes.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the flat configuration for the offline network core.
type Config struct {
	// Backend endpoint settings
	BaseURL           string `yaml:"base_url" json:"base_url"`
	TokenURL          string `yaml:"token_url" json:"token_url"`
	ClientID          string `yaml:"client_id" json:"client_id"`
	ClientSecret      string `yaml:"client_secret" json:"client_secret"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec" json:"request_timeout_sec"`

	// Logging
	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`

	// Persistence backend for the durable queue and credential record
	StorageBackend string `yaml:"storage_backend" json:"storage_backend"`
	StorageBaseDir string `yaml:"storage_base_dir" json:"storage_base_dir"`
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword  string `yaml:"redis_password" json:"redis_password"`
	RedisDB        int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix" json:"redis_prefix"`
	PostgresDSN    string `yaml:"postgres_dsn" json:"postgres_dsn"`
	MongoURI       string `yaml:"mongodb_uri" json:"mongodb_uri"`
	MongoDatabase  string `yaml:"mongodb_database" json:"mongodb_database"`

	// Credential storage
	CredentialPath string `yaml:"credential_path" json:"credential_path"`
	DeviceSecret   string `yaml:"device_secret" json:"device_secret"`

	// Connectivity probing
	ProbeURL         string `yaml:"probe_url" json:"probe_url"`
	ProbeIntervalSec int    `yaml:"probe_interval_sec" json:"probe_interval_sec"`
	ProbeTimeoutSec  int    `yaml:"probe_timeout_sec" json:"probe_timeout_sec"`

	// Queue behavior
	MaxAttempts        int     `yaml:"max_attempts" json:"max_attempts"`
	RetryIdempotent5xx bool    `yaml:"retry_idempotent_5xx" json:"retry_idempotent_5xx"`
	DrainRatePerSec    float64 `yaml:"drain_rate_per_sec" json:"drain_rate_per_sec"`
	DrainBurst         int     `yaml:"drain_burst" json:"drain_burst"`
	MutationIDField    string  `yaml:"mutation_id_field" json:"mutation_id_field"`

	// Local diagnostics server
	DiagnosticsEnabled bool   `yaml:"diagnostics_enabled" json:"diagnostics_enabled"`
	DiagnosticsAddr    string `yaml:"diagnostics_addr" json:"diagnostics_addr"`
}

// Load reads the config file at path, then layers defaults and OFFSYNC_*
// environment overrides on top. A missing file is not an error; the
// returned config is then defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail far from their cause.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	switch c.StorageBackend {
	case "file", "redis", "postgres", "mongodb":
	default:
		return fmt.Errorf("unknown storage_backend %q (expected file, redis, postgres or mongodb)", c.StorageBackend)
	}
	if c.StorageBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis backend")
	}
	if c.StorageBackend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required for the postgres backend")
	}
	if c.StorageBackend == "mongodb" && c.MongoURI == "" {
		return fmt.Errorf("mongodb_uri is required for the mongodb backend")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// BaseHost returns the host portion of the backend base URL.
func (c *Config) BaseHost() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func normalizeBackendName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "mongo" {
		return "mongodb"
	}
	return name
}
