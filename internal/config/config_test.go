package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "mosaic.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full config file", func(t *testing.T) {
		path := writeConfig(t, `
listen: ":9000"
instance: paintwall
persistence:
  engine: redis
  redis_url: redis://redis:6379
  flush_interval: 30s
  evict_interval: 2m
  max_idle: 10m
auth:
  secret: s3cret
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Listen)
		assert.Equal(t, "paintwall", cfg.Instance)
		assert.Equal(t, 30*time.Second, cfg.Persistence.FlushInterval.Std())
		assert.Equal(t, 2*time.Minute, cfg.Persistence.EvictInterval.Std())
		assert.Equal(t, 10*time.Minute, cfg.Persistence.MaxIdle.Std())
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		t.Setenv("MOSAIC_AUTH_SECRET", "from-env")

		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Listen)
		assert.Equal(t, EngineRedis, cfg.Persistence.Engine)
		assert.Equal(t, 60*time.Second, cfg.Persistence.FlushInterval.Std())
		assert.Equal(t, "from-env", cfg.Auth.Secret)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("MOSAIC_LISTEN", ":7777")
		t.Setenv("MOSAIC_AUTH_SECRET", "env-secret")
		path := writeConfig(t, `
listen: ":9000"
auth:
  secret: file-secret
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7777", cfg.Listen)
		assert.Equal(t, "env-secret", cfg.Auth.Secret)
	})

	t.Run("postgres engine", func(t *testing.T) {
		path := writeConfig(t, `
persistence:
  engine: postgres
  postgres_uri: postgres://user:pw@localhost:5432/mosaic
auth:
  secret: s3cret
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, EnginePostgres, cfg.Persistence.Engine)
	})

	t.Run("rejects bad durations", func(t *testing.T) {
		path := writeConfig(t, `
persistence:
  flush_interval: sixty seconds
auth:
  secret: s3cret
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.Secret = "s3cret"
		return cfg
	}

	t.Run("accepts the default shape", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("requires an auth secret", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.Secret = ""
		assert.ErrorContains(t, cfg.Validate(), "auth secret")
	})

	t.Run("rejects unknown engines", func(t *testing.T) {
		cfg := valid()
		cfg.Persistence.Engine = "sqlite"
		assert.ErrorContains(t, cfg.Validate(), "unknown persistence engine")
	})

	t.Run("postgres engine requires a uri", func(t *testing.T) {
		cfg := valid()
		cfg.Persistence.Engine = EnginePostgres
		cfg.Persistence.PostgresURI = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive intervals", func(t *testing.T) {
		cfg := valid()
		cfg.Persistence.FlushInterval = 0
		assert.Error(t, cfg.Validate())
	})
}
