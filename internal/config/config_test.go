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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "arbitrage.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Lease())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.MonitorInterval())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9090"
queue:
  lease_seconds: 10
  max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Lease())
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	// Unset keys keep their defaults.
	assert.Equal(t, "arbitrage.db", cfg.Database.Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("QUEUE_LEASE_SECONDS", "15")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Lease())
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.Validate())

	cfg.Queue.LeaseSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Queue.MaxAttempts = -1
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())
}
