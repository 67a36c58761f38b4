package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)

	first, firstPath, err := LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "config.yaml"), firstPath)
	assert.NotEmpty(t, first.UniqueID)
	assert.Equal(t, DefaultPollInterval, first.Discovery.PollInterval)
	assert.Equal(t, DefaultRefreshLimit, first.Discovery.RefreshLimit)
	assert.Equal(t, filepath.Join(dataDir, "keys", "client_cert.pem"), first.Identity.CertPath)
	assert.DirExists(t, filepath.Join(dataDir, "keys"))

	second, secondPath, err := LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, firstPath, secondPath)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)

	partial := "uniqueId: not-a-uuid\ndeviceName: Living Room\nrequestTimeout: 3s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(partial), 0o600))

	cfg, path, err := LoadOrCreate()
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", cfg.UniqueID)
	assert.Equal(t, "Living Room", cfg.DeviceName)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, filepath.Join(dataDir, "keys", "client_key.pem"), cfg.Identity.KeyPath)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var written Config
	require.NoError(t, yaml.Unmarshal(raw, &written))
	assert.Equal(t, cfg.UniqueID, written.UniqueID, "normalized config should be written back")
}

func TestLoadOrCreateRejectsInvalidConfig(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)

	invalid := "discovery:\n  pollInterval: 10ms\nidentity:\n  certPath: /tmp/same.pem\n  keyPath: /tmp/same.pem\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(invalid), 0o600))

	_, _, err := LoadOrCreate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll interval")
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoadOrCreateRejectsMalformedYAML(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte("discovery: [\n"), 0o600))

	_, _, err := LoadOrCreate()
	assert.ErrorContains(t, err, "unmarshal")
}
