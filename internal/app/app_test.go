package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factory-twin/backend/internal/config"
	"github.com/factory-twin/backend/internal/ctxlog"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDirectory = filepath.Join(dir, "data")
	cfg.Storage.CacheDirectory = filepath.Join(dir, "data", "cache")
	cfg.Storage.ImagesDirectory = filepath.Join(dir, "data", "images")
	cfg.Storage.CatalogPath = filepath.Join(dir, "data", "catalog.duckdb")
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, ctxlog.Discard())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Resolver)
	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Catalog)
	assert.Nil(t, a.Publisher, "publishing is off without a bucket")
	assert.Same(t, a.Cache, a.Resolver.Cache())
	assert.DirExists(t, cfg.Storage.CacheDirectory)
	assert.DirExists(t, cfg.Storage.ImagesDirectory)

	m := a.NewManager(context.Background())
	defer m.Close()
	assert.Equal(t, cfg.Storage.DataDirectory, m.DataDir())
	assert.Empty(t, m.ListRuns())
}

func TestNew_WithoutCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.CatalogPath = ""
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, a.Catalog)
	assert.NoError(t, a.Close())
}

func TestPipelineOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scene.TargetMachineSize = 1500
	cfg.Scene.JointMinDegrees = 60
	cfg.Scene.JointMaxDegrees = 120
	cfg.Generation.MaxWorkers = 7
	cfg.Generation.EntityTimeoutSecs = 90

	opts := PipelineOptions(cfg)
	assert.Equal(t, 7, opts.Workers)
	assert.Equal(t, 90*time.Second, opts.EntityTimeout)
	assert.Equal(t, float32(1500), opts.Scene.TargetSize)
	assert.Equal(t, float32(60), opts.Scene.Connector.JointMinDeg)
	assert.Equal(t, float32(120), opts.Scene.Connector.JointMaxDeg)

	// an inverted window keeps the default
	cfg.Scene.JointMinDegrees = 130
	opts = PipelineOptions(cfg)
	assert.Equal(t, float32(80), opts.Scene.Connector.JointMinDeg)
	assert.Equal(t, float32(100), opts.Scene.Connector.JointMaxDeg)
}

func TestRetryPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	p := RetryPolicy(cfg)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.BackoffStep)

	cfg.Generation.MaxAttempts = 2
	cfg.Generation.BackoffStepSeconds = 0
	p = RetryPolicy(cfg)
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, time.Duration(0), p.BackoffStep)
}
