package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
	"github.com/flowpilot/flowpilot/common/repository"
)

// ExecutionHandler handles execution history and control requests
type ExecutionHandler struct {
	c *container.Container
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

// List returns executions, most recent first.
// GET /api/v1/executions?workflow=&status=&limit=&offset=
func (h *ExecutionHandler) List(c echo.Context) error {
	filter := repository.ListFilter{
		Workflow: c.QueryParam("workflow"),
		Status:   c.QueryParam("status"),
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	}
	executions, err := h.c.ExecRepo.List(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"executions": executions,
		"count":      len(executions),
	})
}

// Stats aggregates executions, optionally for one workflow.
// GET /api/v1/executions/stats?workflow=
func (h *ExecutionHandler) Stats(c echo.Context) error {
	stats, err := h.c.ExecRepo.Stats(c.Request().Context(), c.QueryParam("workflow"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// Get returns one execution with its node rows.
// GET /api/v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	id := c.Param("id")
	execution, err := h.c.ExecRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if execution == nil {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}
	nodes, err := h.c.ExecRepo.ListNodes(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"execution": execution,
		"nodes":     nodes,
	})
}

// Logs returns one page of node rows for an execution.
// GET /api/v1/executions/:id/logs?page=&page_size=
func (h *ExecutionHandler) Logs(c echo.Context) error {
	id := c.Param("id")
	execution, err := h.c.ExecRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if execution == nil {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)
	nodes, total, err := h.c.ExecRepo.ListNodesPage(c.Request().Context(), id, page, pageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"nodes":     nodes,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

// Cancel requests cancellation of a pending or running execution.
// DELETE /api/v1/executions/:id
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	id := c.Param("id")
	if h.c.Runner.Cancel(id) {
		return c.JSON(http.StatusAccepted, map[string]any{"id": id, "cancelling": true})
	}

	execution, err := h.c.ExecRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if execution == nil {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}
	return echo.NewHTTPError(http.StatusBadRequest, "execution is not pending or running")
}

func queryInt(c echo.Context, name string, def int) int {
	if raw := c.QueryParam(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}
