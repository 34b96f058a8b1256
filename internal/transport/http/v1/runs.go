package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/draftmill/orchestrator/internal/domain"
	"github.com/draftmill/orchestrator/internal/service"
)

// CreateRun accepts a goal and starts a run.
// POST /v1/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.CreateRun(c.Request().Context(), req)
	if err != nil {
		log.Warnf("create run rejected: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, resp)
}

// GetRun returns the run's status, goal, and (once terminal) its result.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	runID := c.Param("run_id")

	run, err := h.service.GetRun(c.Request().Context(), runID)
	if err == service.ErrRunNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		log.Errorf("failed to get run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}

	resp := domain.RunResponse{
		RunID:     run.RunID,
		Mode:      run.Mode,
		Status:    run.Status,
		Goal:      run.Goal,
		Metadata:  run.Metadata,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if run.Status.Terminal() {
		resp.Result = run.Result
	}
	return c.JSON(http.StatusOK, resp)
}

// ListRuns lists an owner's runs.
// GET /v1/runs?owner_id=...&limit=...
func (h *Handler) ListRuns(c echo.Context) error {
	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		ownerID = "default_user"
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.service.ListRuns(c.Request().Context(), ownerID, limit)
	if err != nil {
		log.Errorf("failed to list runs: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}

	// Listings are summaries: uploaded documents stay out of the response.
	items := make([]domain.RunResponse, 0, len(runs))
	for _, run := range runs {
		item := domain.RunResponse{
			RunID:     run.RunID,
			Mode:      run.Mode,
			Status:    run.Status,
			Goal:      run.Goal,
			Metadata:  run.Metadata,
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		}
		if run.Status.Terminal() {
			item.Result = run.Result
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": items})
}

// PollRun is the cursor-based pull read model.
// GET /v1/runs/:run_id/poll?cursor=N
func (h *Handler) PollRun(c echo.Context) error {
	runID := c.Param("run_id")

	cursor := int64(0)
	if raw := c.QueryParam("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid cursor"})
		}
		cursor = n
	}

	resp, err := h.service.Poll(c.Request().Context(), runID, cursor)
	if err == service.ErrRunNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		log.Errorf("failed to poll run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to poll run"})
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelRun cancels a run; idempotent once terminal.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	runID := c.Param("run_id")

	run, err := h.service.CancelRun(c.Request().Context(), runID)
	if err == service.ErrRunNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		log.Errorf("failed to cancel run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to cancel run"})
	}
	return c.JSON(http.StatusOK, domain.CancelResponse{RunID: run.RunID, Status: run.Status})
}

// RetireRun soft-retires a run.
// DELETE /v1/runs/:run_id
func (h *Handler) RetireRun(c echo.Context) error {
	runID := c.Param("run_id")

	err := h.service.RetireRun(c.Request().Context(), runID)
	if err == service.ErrRunNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		log.Errorf("failed to retire run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to retire run"})
	}
	return c.NoContent(http.StatusNoContent)
}
