package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "~/.quill", cfg.Workspace)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, 10, cfg.Search.MaxResults)
}

func TestLoadConfigReadsJSONAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Workspace = "/tmp/quill-test"
	cfg.Search.MaxResults = 4
	require.NoError(t, SaveConfig(path, cfg))

	t.Setenv("QUILL_SEARCH_MAX_RESULTS", "7")
	t.Setenv("QUILL_LOG_LEVEL", "debug")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/quill-test", loaded.Workspace)
	assert.Equal(t, 7, loaded.Search.MaxResults, "env must override file")
	assert.Equal(t, "debug", loaded.LogLevel)
}

func TestWorkspacePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = "/var/lib/quill"
	assert.Equal(t, "/var/lib/quill", cfg.WorkspacePath())
	assert.Equal(t, filepath.Join("/var/lib/quill", "state", "quill.db"), cfg.StorePath())
	assert.Equal(t, filepath.Join("/var/lib/quill", "state", "vectors"), cfg.VectorPath())
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Provider.Model = "test/model"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "test/model", loaded.Provider.Model)
}
