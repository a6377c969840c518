package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests loading without a file
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Preload.MaxConcurrent)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialDelay)
	assert.Equal(t, 16, cfg.Mirror.DeltaBufferSize)
}

// TestLoadFileAndEnv tests that the environment overrides the file
func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: wss://bus.example/ws
catalog: contracts.yaml
scope: guild-1
reconnect:
  initialDelay: 250ms
  maxDelay: 5s
  maxAttempts: 4
preload:
  maxConcurrent: 3
`), 0o600))

	t.Setenv("EVENTSYNC_URL", "wss://override.example/ws")
	t.Setenv("EVENTSYNC_RECONNECT_MAX_ATTEMPTS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://override.example/ws", cfg.URL)
	assert.Equal(t, "contracts.yaml", cfg.CatalogPath)
	assert.Equal(t, "guild-1", cfg.Scope)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 6, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 3, cfg.Preload.MaxConcurrent)
}

// TestLoadErrors tests invalid input handling
func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("EVENTSYNC_PRELOAD_MAX_CONCURRENT", "not-an-int")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

// TestValidate tests bound checks
func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Preload.MaxConcurrent = 0
	cfg.Reconnect.Jitter = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preload.maxConcurrent")
	assert.Contains(t, err.Error(), "reconnect.jitter")
}
