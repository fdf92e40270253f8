package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "FactoryTwin.config")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config should be written")
	assert.Equal(t, 5, cfg.Generation.MaxAttempts)
	assert.Equal(t, 3000.0, cfg.Scene.TargetMachineSize)
	assert.True(t, filepath.IsAbs(cfg.Storage.CacheDirectory))
	assert.Equal(t, filepath.Join(dir, "data", "cache"), cfg.Storage.CacheDirectory)
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "FactoryTwin.config")

	cfg := DefaultConfig()
	cfg.Scene.JointMinDegrees = 70
	cfg.Generation.MaxWorkers = 9
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 70.0, loaded.Scene.JointMinDegrees)
	assert.Equal(t, 9, loaded.Generation.MaxWorkers)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "FactoryTwin.config")
	require.NoError(t, DefaultConfig().Save(path))

	t.Setenv("PORT", "9999")
	t.Setenv("API_URL", "http://mesh.local/gen")
	t.Setenv("MAX_WORKERS", "12")
	t.Setenv("TARGET_MACHINE_SIZE", "1500")
	t.Setenv("API_TIMEOUT", "not-a-number")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "http://mesh.local/gen", cfg.Generation.APIURL)
	assert.Equal(t, 12, cfg.Generation.MaxWorkers)
	assert.Equal(t, 1500.0, cfg.Scene.TargetMachineSize)
	assert.Equal(t, 1200, cfg.Generation.TimeoutSeconds)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.resolvePaths(dir)

	require.NoError(t, cfg.EnsureDirectories())
	for _, d := range []string{cfg.Storage.DataDirectory, cfg.Storage.CacheDirectory, cfg.Storage.ImagesDirectory} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
