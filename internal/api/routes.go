// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Runs    RunManager
	History RunHistory // optional
	Images  *storage.ImageStore
	Cache   *storage.MeshCache
	Metrics http.Handler // optional
	Version string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Runs    RunHandler
	Project ProjectHandler
	Assets  AssetHandler
	Events  EventHandler
	Metrics http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version),
		Runs:    NewRunHandler(deps.Runs, deps.History),
		Project: NewProjectHandler(deps.Runs),
		Assets:  NewAssetHandler(deps.Images, deps.Cache),
		Events:  NewWebSocketHandler(deps.Runs),
		Metrics: deps.Metrics,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Pipeline runs
	runGroup := apiGroup.Group("/runs")
	runGroup.POST("", handlers.Runs.HandleStartRun)
	runGroup.GET("", handlers.Runs.HandleListRuns)
	runGroup.GET("/:id", handlers.Runs.HandleGetRun)
	runGroup.GET("/:id/layout", handlers.Runs.HandleGetLayout)
	runGroup.GET("/:id/layout/msgpack", handlers.Runs.HandleGetLayoutMsgpack)
	runGroup.GET("/:id/assets", handlers.Runs.HandleGetAssets)
	runGroup.GET("/:id/events", handlers.Events.HandleRunEvents)

	// Handover contracts
	projectGroup := apiGroup.Group("/projects/:project")
	projectGroup.POST("/encode", handlers.Project.HandleEncode)
	projectGroup.GET("/handover", handlers.Project.HandleGetHandover)

	// Reference images
	imageGroup := apiGroup.Group("/images")
	imageGroup.POST("", handlers.Assets.HandleUploadImage)
	imageGroup.GET("", handlers.Assets.HandleListImages)
	imageGroup.DELETE("/:slug", handlers.Assets.HandleDeleteImage)

	// Mesh cache
	cacheGroup := apiGroup.Group("/cache")
	cacheGroup.GET("", handlers.Assets.HandleListCache)
	cacheGroup.DELETE("", handlers.Assets.HandleClearAllCache)
	cacheGroup.DELETE("/:slug", handlers.Assets.HandleClearCache)

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}
}

// MiddlewareConfig selects the common middleware.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	RequestLogging bool
	EnableCORS     bool
	AllowOrigins   string // comma separated
	BodyLimit      string
	Timeout        time.Duration
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = ctxlog.Discard()
	}

	e.HTTPErrorHandler = ErrorHandler

	// Carry the logger into every request context
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(ctxlog.WithLogger(req.Context(), logger)))
			return next(c)
		}
	})

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.RequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Timeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout: cfg.Timeout,
			Skipper: func(c echo.Context) bool {
				return strings.HasSuffix(c.Request().URL.Path, "/events")
			},
			ErrorMessage: "Request timeout",
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: splitOrigins(cfg.AllowOrigins),
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
