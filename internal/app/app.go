// Package app builds the long-lived components of the scene builder from
// configuration. Both the HTTP server and the CLI start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/factory-twin/backend/internal/catalog"
	"github.com/factory-twin/backend/internal/config"
	"github.com/factory-twin/backend/internal/connector"
	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/metrics"
	"github.com/factory-twin/backend/internal/pipeline"
	"github.com/factory-twin/backend/internal/publish"
	"github.com/factory-twin/backend/internal/resolver"
	"github.com/factory-twin/backend/internal/scene"
	"github.com/factory-twin/backend/internal/storage"
)

// App encapsulates the application's dependencies.
type App struct {
	Config       *config.AppConfig
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Images       *storage.ImageStore
	Cache        *storage.MeshCache
	Resolver     *resolver.Resolver
	Orchestrator *pipeline.Orchestrator
	Catalog      *catalog.Catalog  // nil when no catalog path is configured
	Publisher    publish.Publisher // nil when no bucket is configured

	generator *resolver.HTTPGenerator
}

// New wires every component. The caller owns the result and must Close it.
func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = ctxlog.Discard()
	}
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	var err error
	if a.Images, err = storage.NewImageStore(cfg.Storage.ImagesDirectory); err != nil {
		return nil, err
	}
	if a.Cache, err = storage.NewMeshCache(cfg.Storage.CacheDirectory); err != nil {
		return nil, err
	}

	a.generator = resolver.NewHTTPGenerator(cfg.Generation.APIURL, cfg.GenerationTimeout())
	a.Resolver = resolver.New(a.Cache, a.Images, a.generator,
		resolver.WithPolicy(RetryPolicy(cfg)),
		resolver.WithMetrics(a.Metrics))
	a.Orchestrator = pipeline.NewOrchestrator(a.Resolver, PipelineOptions(cfg), a.Metrics)

	if cfg.Storage.CatalogPath != "" {
		if a.Catalog, err = catalog.Open(cfg.Storage.CatalogPath, cfg.Advanced.DuckDBThreads); err != nil {
			a.Close()
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		logger.Debug("catalog opened", "path", cfg.Storage.CatalogPath)
	}

	if cfg.Publish.Bucket != "" {
		pub, err := publish.New(ctx, publish.Config{
			Region:    cfg.Publish.Region,
			Bucket:    cfg.Publish.Bucket,
			Endpoint:  cfg.Publish.Endpoint,
			PathStyle: cfg.Publish.UsePathStyle,
			Prefix:    cfg.Publish.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("configure publisher: %w", err)
		}
		a.Publisher = pub
		logger.Info("scene publishing enabled", "bucket", cfg.Publish.Bucket)
	}

	return a, nil
}

// NewManager creates a run manager recording into the catalog and
// publishing through the publisher when those are configured.
func (a *App) NewManager(ctx context.Context) *pipeline.Manager {
	opts := []pipeline.ManagerOption{pipeline.WithManagerMetrics(a.Metrics)}
	if a.Catalog != nil {
		opts = append(opts, pipeline.WithRecorder(a.Catalog))
	}
	if a.Publisher != nil {
		opts = append(opts, pipeline.WithPublisher(a.Publisher))
	}
	return pipeline.NewManager(ctxlog.WithLogger(ctx, a.Logger), a.Orchestrator, a.Config.GetDataDir(), opts...)
}

// Close releases the generator's connections and the catalog.
func (a *App) Close() error {
	var errs []error
	if a.generator != nil {
		a.generator.Close()
	}
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	return errors.Join(errs...)
}

// RetryPolicy maps the generation section to the resolver's retry policy.
func RetryPolicy(cfg *config.AppConfig) resolver.Policy {
	p := resolver.DefaultPolicy
	if cfg.Generation.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Generation.MaxAttempts
	}
	if cfg.Generation.BackoffStepSeconds >= 0 {
		p.BackoffStep = time.Duration(cfg.Generation.BackoffStepSeconds) * time.Second
	}
	return p
}

// PipelineOptions maps the generation and scene sections to orchestrator
// options.
func PipelineOptions(cfg *config.AppConfig) pipeline.Options {
	so := scene.DefaultOptions()
	if cfg.Scene.TargetMachineSize > 0 {
		so.TargetSize = float32(cfg.Scene.TargetMachineSize)
	}
	if cfg.Scene.PlaceholderHeight > 0 {
		so.PlaceholderHeight = float32(cfg.Scene.PlaceholderHeight)
	}
	if cfg.Scene.PlacementWorkers > 0 {
		so.Workers = cfg.Scene.PlacementWorkers
	}

	co := connector.DefaultOptions()
	if cfg.Scene.JointMaxDegrees > cfg.Scene.JointMinDegrees {
		co.JointMinDeg = float32(cfg.Scene.JointMinDegrees)
		co.JointMaxDeg = float32(cfg.Scene.JointMaxDegrees)
	}
	if cfg.Scene.MinSegmentLength > 0 {
		co.MinSegmentLength = float32(cfg.Scene.MinSegmentLength)
	}
	so.Connector = co

	return pipeline.Options{
		Workers:       cfg.Generation.MaxWorkers,
		EntityTimeout: cfg.EntityTimeout(),
		Scene:         so,
	}
}
