// Package v1 provides the public HTTP handlers for the orchestrator.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/draftmill/orchestrator/internal/config"
	"github.com/draftmill/orchestrator/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	cfg     *config.Config
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, cfg *config.Config) *Handler {
	return &Handler{
		service: svc,
		cfg:     cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", h.CreateRun)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/poll", h.PollRun)
	e.GET("/v1/runs/:run_id/stream", h.StreamRun)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)
	e.DELETE("/v1/runs/:run_id", h.RetireRun)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
