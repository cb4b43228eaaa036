package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", cfg.BaseURL)
	assert.Equal(t, "https://auth.example.com/token", cfg.TokenURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.Retries)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 10*time.Second, cfg.ExtraExpiry)
	assert.Equal(t, time.Minute, cfg.RefreshMargin)
	assert.False(t, cfg.HasCredentials())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CATALOG_CLIENT_ID", "id-1")
	t.Setenv("CATALOG_CLIENT_SECRET", "secret-1")
	t.Setenv("CATALOG_TIMEOUT", "30s")
	t.Setenv("CATALOG_RETRIES", "2")
	t.Setenv("CATALOG_CACHE", "false")
	t.Setenv("CATALOG_RETRY_STATUSES", "429,503")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "id-1", cfg.ClientID)
	assert.Equal(t, []int{429, 503}, cfg.RetryStatuses)
	assert.Equal(t, "secret-1", cfg.ClientSecret)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.Retries)
	assert.False(t, cfg.CacheEnabled)
	assert.True(t, cfg.HasCredentials())
	require.NoError(t, cfg.Validate())
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
client_id = "file-id"
client_secret = "file-secret"
retries = 3
extra_expiry = "20s"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "file-id", cfg.ClientID)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 20*time.Second, cfg.ExtraExpiry)
	// Untouched fields keep their defaults.
	assert.Equal(t, "https://api.example.com/v1", cfg.BaseURL)
}

func TestEnvironmentWinsOverFile(t *testing.T) {
	path := writeConfigFile(t, `
client_id = "file-id"
client_secret = "file-secret"
`)
	t.Setenv("CATALOG_CLIENT_ID", "env-id")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.ClientID)
	assert.Equal(t, "file-secret", cfg.ClientSecret)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	path := writeConfigFile(t, `client_id = [not toml`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := defaults()

	t.Run("anonymous is fine", func(t *testing.T) {
		cfg := *base
		require.NoError(t, cfg.Validate())
	})

	t.Run("half credentials", func(t *testing.T) {
		cfg := *base
		cfg.ClientID = "id-only"
		require.Error(t, cfg.Validate())
	})

	t.Run("bad retries", func(t *testing.T) {
		cfg := *base
		cfg.Retries = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("bad timeout", func(t *testing.T) {
		cfg := *base
		cfg.Timeout = 0
		require.Error(t, cfg.Validate())
	})
}
