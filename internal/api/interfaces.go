// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/pipeline"
)

// RunHandler handles pipeline run operations
type RunHandler interface {
	HandleStartRun(c echo.Context) error
	HandleListRuns(c echo.Context) error
	HandleGetRun(c echo.Context) error
	HandleGetLayout(c echo.Context) error
	HandleGetLayoutMsgpack(c echo.Context) error
	HandleGetAssets(c echo.Context) error
}

// ProjectHandler handles handover contract operations
type ProjectHandler interface {
	HandleEncode(c echo.Context) error
	HandleGetHandover(c echo.Context) error
}

// AssetHandler handles reference images and the mesh cache
type AssetHandler interface {
	HandleUploadImage(c echo.Context) error
	HandleListImages(c echo.Context) error
	HandleDeleteImage(c echo.Context) error
	HandleListCache(c echo.Context) error
	HandleClearCache(c echo.Context) error
	HandleClearAllCache(c echo.Context) error
}

// EventHandler streams run progress
type EventHandler interface {
	HandleRunEvents(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// RunManager defines the interface for pipeline run management
// This allows mocking in tests
type RunManager interface {
	StartRun(project string) (*models.PipelineRun, error)
	GetRun(id string) (*models.PipelineRun, bool)
	ListRuns() []*models.PipelineRun
	Layout(id string) (*models.Layout, bool)
	Subscribe(id string) (<-chan pipeline.Event, func(), error)
	Project(name string) (pipeline.Project, error)
}

// RunHistory is the persistent record of finished runs.
type RunHistory interface {
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, project string, limit int) ([]*models.PipelineRun, error)
}
