// Package config loads and validates the mosaic.yml server configuration.
// Environment variables override file values, and command-line flags override
// both (flag wiring lives in cmd/mosaicd).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence engine names.
const (
	EngineRedis    = "redis"
	EnginePostgres = "postgres"
)

// Duration is a time.Duration that unmarshals from YAML strings like "60s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level mosaic.yml configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `yaml:"listen"`

	// Instance namespaces all persisted keys so multiple instances can share
	// one Redis server.
	Instance string `yaml:"instance"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Auth        AuthConfig        `yaml:"auth"`
}

// PersistenceConfig selects and tunes the durable tile backend.
type PersistenceConfig struct {
	// Engine is "redis" or "postgres".
	Engine string `yaml:"engine"`

	// RedisURL is the redis:// connection URL (engine "redis").
	RedisURL string `yaml:"redis_url,omitempty"`

	// PostgresURI is the postgres:// connection URI (engine "postgres").
	PostgresURI string `yaml:"postgres_uri,omitempty"`

	// FlushInterval is how often dirty tiles are written back.
	FlushInterval Duration `yaml:"flush_interval,omitempty"`

	// EvictInterval is how often the idle-tile sweep runs.
	EvictInterval Duration `yaml:"evict_interval,omitempty"`

	// MaxIdle is how long an unviewed tile may sit untouched before the
	// sweep reclaims it.
	MaxIdle Duration `yaml:"max_idle,omitempty"`
}

// AuthConfig holds the session-token settings.
type AuthConfig struct {
	// Secret signs and verifies session tokens. Required.
	Secret string `yaml:"secret"`
}

// Default returns the built-in configuration: Redis on localhost, listening
// on :8080. The auth secret has no default and must be supplied.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Instance: "default",
		Persistence: PersistenceConfig{
			Engine:        EngineRedis,
			RedisURL:      "redis://localhost:6379",
			FlushInterval: Duration(60 * time.Second),
			EvictInterval: Duration(5 * time.Minute),
			MaxIdle:       Duration(15 * time.Minute),
		},
	}
}

// Load reads a config file and applies environment overrides. A missing file
// is not an error: defaults plus environment apply. Validation is the
// caller's job, after any flag overrides land on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fine: run on defaults and environment.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MOSAIC_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("MOSAIC_INSTANCE"); v != "" {
		c.Instance = v
	}
	if v := os.Getenv("MOSAIC_PERSISTENCE_ENGINE"); v != "" {
		c.Persistence.Engine = v
	}
	if v := os.Getenv("MOSAIC_REDIS_URL"); v != "" {
		c.Persistence.RedisURL = v
	}
	if v := os.Getenv("MOSAIC_POSTGRES_URI"); v != "" {
		c.Persistence.PostgresURI = v
	}
	if v := os.Getenv("MOSAIC_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.Instance == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required (auth.secret or MOSAIC_AUTH_SECRET)")
	}

	switch c.Persistence.Engine {
	case EngineRedis:
		if c.Persistence.RedisURL == "" {
			return fmt.Errorf("persistence engine %q requires redis_url", EngineRedis)
		}
	case EnginePostgres:
		if c.Persistence.PostgresURI == "" {
			return fmt.Errorf("persistence engine %q requires postgres_uri", EnginePostgres)
		}
	default:
		return fmt.Errorf("unknown persistence engine %q (expected %q or %q)",
			c.Persistence.Engine, EngineRedis, EnginePostgres)
	}

	if c.Persistence.FlushInterval.Std() <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if c.Persistence.EvictInterval.Std() <= 0 {
		return fmt.Errorf("evict_interval must be positive")
	}
	if c.Persistence.MaxIdle.Std() <= 0 {
		return fmt.Errorf("max_idle must be positive")
	}
	return nil
}
