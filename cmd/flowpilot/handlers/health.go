package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
)

// HealthHandler reports daemon health
type HealthHandler struct {
	c *container.Container
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(c *container.Container) *HealthHandler {
	return &HealthHandler{c: c}
}

// Health is the general health endpoint.
// GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":            "ok",
		"service":           h.c.Config.Service.Name,
		"active_executions": h.c.Runner.ActiveCount(),
	})
}

// Ready reports whether the daemon can serve requests, checking storage.
// GET /health/ready
func (h *HealthHandler) Ready(c echo.Context) error {
	if err := h.c.DB.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready"})
}

// Live is the liveness probe.
// GET /health/live
func (h *HealthHandler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "alive"})
}
