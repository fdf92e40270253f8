package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/factory-twin/backend/internal/api"
	"github.com/factory-twin/backend/internal/app"
	"github.com/factory-twin/backend/internal/config"
	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	runRetention    = 24 * time.Hour
	cleanupInterval = 30 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	configPath := filepath.Join(filepath.Dir(exePath), "FactoryTwin.config")
	if p := os.Getenv("FACTORY_TWIN_CONFIG"); p != "" {
		configPath = p
	}

	// Load XML configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := ctxlog.New(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, os.Stdout)
	api.ShowErrorDetails = cfg.Advanced.LogLevel == "debug"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runMgr := a.NewManager(ctx)
	defer runMgr.Close()

	// Drop finished runs from memory; the catalog keeps them
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := runMgr.CleanupOldRuns(runRetention); n > 0 {
					logger.Debug("old runs dropped from memory", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		Logger:         logger,
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
		Timeout:        time.Duration(cfg.Server.ReadTimeout) * time.Second,
	})

	deps := &api.Dependencies{
		Runs:    runMgr,
		Images:  a.Images,
		Cache:   a.Cache,
		Metrics: a.Metrics.Handler(),
		Version: Version,
	}
	if a.Catalog != nil {
		deps.History = a.Catalog
	}
	api.RegisterRoutes(e, api.NewHandlers(deps))

	// Scenes and the viewer live on their own port for the lifetime of the process
	assets := web.NewAssetServer(cfg.GetDataDir(), nil)
	if err := assets.Start(ctx, cfg.GetAssetAddr()); err != nil {
		return err
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.Info("factory twin server starting",
		"version", Version,
		"build", BuildTime,
		"config", configPath,
		"listen", cfg.GetServerAddr(),
		"assets", assets.Addr(),
		"data", cfg.GetDataDir(),
		"generator", cfg.Generation.APIURL)

	serveErr := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			assets.Stop(context.Background())
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	if err := assets.Stop(shutdownCtx); err != nil {
		logger.Warn("asset server shutdown", "error", err)
	}
	return nil
}
