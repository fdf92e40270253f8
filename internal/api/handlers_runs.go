// handlers_runs.go - Pipeline run handlers
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/factory-twin/backend/internal/catalog"
	"github.com/factory-twin/backend/internal/models"
)

// RunHandlerImpl implements the RunHandler interface
type RunHandlerImpl struct {
	runs    RunManager
	history RunHistory
}

// NewRunHandler creates a new run handler. history may be nil.
func NewRunHandler(runs RunManager, history RunHistory) RunHandler {
	return &RunHandlerImpl{
		runs:    runs,
		history: history,
	}
}

// HandleStartRun starts a pipeline run for a project whose handover
// contract is in place
func (h *RunHandlerImpl) HandleStartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	run, err := h.runs.StartRun(strings.TrimSpace(req.Project))
	if err != nil {
		return pipelineError(err)
	}
	return c.JSON(http.StatusAccepted, run)
}

// HandleListRuns returns runs tracked in memory, or the stored history
// when ?history=true
func (h *RunHandlerImpl) HandleListRuns(c echo.Context) error {
	project := c.QueryParam("project")

	if c.QueryParam("history") == "true" {
		if h.history == nil {
			return NewServiceUnavailableError("run history is not configured")
		}
		limit := parseIntDefault(c.QueryParam("limit"), 50)
		runs, err := h.history.ListRuns(c.Request().Context(), project, limit)
		if err != nil {
			return NewInternalError("failed to list run history", err)
		}
		if runs == nil {
			runs = []*models.PipelineRun{}
		}
		return c.JSON(http.StatusOK, runs)
	}

	runs := h.runs.ListRuns()
	out := make([]*models.PipelineRun, 0, len(runs))
	for _, r := range runs {
		if project == "" || r.Project == project {
			out = append(out, r)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// HandleGetRun returns the current state of a run. Runs no longer held in
// memory are looked up in the history.
func (h *RunHandlerImpl) HandleGetRun(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if run, ok := h.runs.GetRun(id); ok {
		return c.JSON(http.StatusOK, run)
	}
	run, err := h.historyRun(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// HandleGetLayout returns the decoded layout of a completed run
func (h *RunHandlerImpl) HandleGetLayout(c echo.Context) error {
	layout, err := h.layout(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, layout)
}

// HandleGetLayoutMsgpack returns the decoded layout as MessagePack
func (h *RunHandlerImpl) HandleGetLayoutMsgpack(c echo.Context) error {
	layout, err := h.layout(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(layout)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleGetAssets returns per-entity resolution outcomes of a run
func (h *RunHandlerImpl) HandleGetAssets(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var run *models.PipelineRun
	if h.history != nil {
		stored, err := h.history.GetRun(c.Request().Context(), id)
		switch {
		case err == nil:
			run = stored
		case !errors.Is(err, catalog.ErrNotFound):
			return NewInternalError("failed to read run history", err)
		}
	}
	if run == nil {
		live, ok := h.runs.GetRun(id)
		if !ok {
			return NewNotFoundError("run", id)
		}
		run = live
	}

	outcomes := run.Outcomes
	if outcomes == nil {
		outcomes = []models.AssetOutcome{}
	}
	if status := c.QueryParam("status"); status != "" {
		filtered := outcomes[:0:0]
		for _, o := range outcomes {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		outcomes = filtered
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runId":    run.ID,
		"status":   run.Status,
		"outcomes": outcomes,
	})
}

func (h *RunHandlerImpl) layout(c echo.Context) (*models.Layout, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	run, ok := h.runs.GetRun(id)
	if !ok {
		return nil, NewNotFoundError("run", id)
	}
	layout, ok := h.runs.Layout(id)
	if !ok {
		return nil, NewConflictError("layout is available once the run completes", nil).withDetails("status: " + string(run.Status))
	}
	return layout, nil
}

func (h *RunHandlerImpl) historyRun(c echo.Context, id string) (*models.PipelineRun, error) {
	if h.history == nil {
		return nil, NewNotFoundError("run", id)
	}
	run, err := h.history.GetRun(c.Request().Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, NewNotFoundError("run", id)
	}
	if err != nil {
		return nil, NewInternalError("failed to read run history", err)
	}
	return run, nil
}

// Request types

type startRunRequest struct {
	Project string `json:"project"`
}

func (r *startRunRequest) validate() error {
	if strings.TrimSpace(r.Project) == "" {
		return NewValidationError("project")
	}
	return nil
}

func parseIntDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
