package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
	"github.com/flowpilot/flowpilot/cmd/flowpilot/triggers"
)

const maxHookBodyBytes = 5 << 20

// HookHandler receives inbound webhook requests
type HookHandler struct {
	c *container.Container
}

// NewHookHandler creates a new hook handler
func NewHookHandler(c *container.Container) *HookHandler {
	return &HookHandler{c: c}
}

// Receive dispatches an inbound webhook to its registered workflow.
// POST /hooks/*
func (h *HookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxHookBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read request body")
	}

	req := c.Request()
	execution, err := h.c.Webhooks.Dispatch(req.Context(), triggers.HookRequest{
		Method:   req.Method,
		Path:     c.Param("*"),
		Header:   req.Header,
		Query:    req.URL.Query(),
		Body:     body,
		ClientIP: c.RealIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, triggers.ErrHookNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, triggers.ErrHookUnauthorized):
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "accepted",
		"execution_id": execution.ID,
		"workflow":     execution.WorkflowName,
	})
}
