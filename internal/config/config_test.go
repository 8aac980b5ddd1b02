package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/crasd/internal/config"
)

func TestLoadWithMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "/run/crasd/socket", cfg.SocketPath)
	assert.Equal(t, uint32(1024), cfg.DefaultBufferFrames)
	assert.Equal(t, 20, cfg.DrainTimeoutSlackMS)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crasd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socket_path: /tmp/custom.sock\nengine_priority: 20\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, 20, cfg.EnginePriority)
	// Unset keys still fall back to defaults.
	assert.Equal(t, uint32(512), cfg.DefaultCallbackThreshold)
}

func TestLoadWithNonexistentPathFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/crasd.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/run/crasd/socket", cfg.SocketPath)
}

func TestLoadRespectsEnvironmentOverride(t *testing.T) {
	t.Setenv("CRASD_SOCKET_PATH", "/tmp/env.sock")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.sock", cfg.SocketPath)
}
