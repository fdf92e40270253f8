// handlers_project.go - Handover contract handlers
package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/factory-twin/backend/internal/parser"
	"github.com/factory-twin/backend/internal/pipeline"
)

// ProjectHandlerImpl implements the ProjectHandler interface
type ProjectHandlerImpl struct {
	runs RunManager
}

// NewProjectHandler creates a new project handler instance
func NewProjectHandler(runs RunManager) ProjectHandler {
	return &ProjectHandlerImpl{runs: runs}
}

// HandleEncode accepts a layout schema (JSON or YAML) and writes the
// project's handover contract
func (h *ProjectHandlerImpl) HandleEncode(c echo.Context) error {
	project, err := h.runs.Project(c.Param("project"))
	if err != nil {
		return pipelineError(err)
	}

	m, err := parser.ParseManifestFromReader(c.Request().Body)
	if err != nil {
		return NewBadRequestError("invalid layout schema", err)
	}
	if m.Project == "" {
		m.Project = project.Name
	}

	layout, warnings, err := pipeline.Encode(c.Request().Context(), project, m)
	if err != nil {
		return NewBadRequestError("failed to encode layout", err)
	}
	if warnings == nil {
		warnings = []string{}
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"project":     project.Name,
		"entities":    len(layout.Entities),
		"connections": len(layout.Connections),
		"warnings":    warnings,
	})
}

// HandleGetHandover reports which contract files a project has
func (h *ProjectHandlerImpl) HandleGetHandover(c echo.Context) error {
	project, err := h.runs.Project(c.Param("project"))
	if err != nil {
		return pipelineError(err)
	}

	err = project.CheckHandover()
	if err != nil && !errors.Is(err, pipeline.ErrHandoverMissing) {
		return NewInternalError("failed to check handover", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"project":  project.Name,
		"ready":    err == nil,
		"drawing":  fileExists(project.DXFPath()),
		"manifest": fileExists(project.ManifestPath()),
		"scene":    fileExists(project.ScenePath()),
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
