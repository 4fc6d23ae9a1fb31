// Package handlers implements the control API endpoints.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/workflow"
)

const maxDocumentBytes = 1 << 20

// WorkflowHandler handles workflow document and trigger requests
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

// List returns all workflow names with a summary of each document.
// GET /api/v1/workflows?search=&page=&page_size=
func (h *WorkflowHandler) List(c echo.Context) error {
	names, err := h.c.Store.List(c.QueryParam("search"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	total := len(names)
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	names = names[start:end]

	items := make([]map[string]any, 0, len(names))
	for _, name := range names {
		item := map[string]any{"name": name}
		if wf, err := h.c.Store.Load(name); err != nil {
			item["error"] = err.Error()
		} else {
			item["description"] = wf.Description
			item["nodes"] = len(wf.Nodes)
			item["triggers"] = triggerTypes(wf)
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"workflows": items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Get returns one parsed workflow document.
// GET /api/v1/workflows/:name
func (h *WorkflowHandler) Get(c echo.Context) error {
	wf, err := h.c.Store.Load(c.Param("name"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// GetRaw returns the raw YAML document.
// GET /api/v1/workflows/:name/raw
func (h *WorkflowHandler) GetRaw(c echo.Context) error {
	data, err := h.c.Store.Raw(c.Param("name"))
	if err != nil {
		return storeError(err)
	}
	return c.Blob(http.StatusOK, "application/yaml", data)
}

// Create stores a new workflow document.
// POST /api/v1/workflows with body {name, content}
func (h *WorkflowHandler) Create(c echo.Context) error {
	var body struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Name == "" || body.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and content are required")
	}
	if len(body.Content) > maxDocumentBytes {
		return echo.NewHTTPError(http.StatusBadRequest, "document too large")
	}
	wf, err := h.c.Store.Create(body.Name, []byte(body.Content))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// Update replaces an existing workflow document and refreshes its triggers.
// PUT /api/v1/workflows/:name
func (h *WorkflowHandler) Update(c echo.Context) error {
	content, err := readDocument(c)
	if err != nil {
		return err
	}
	wf, err := h.c.Store.Update(c.Param("name"), content)
	if err != nil {
		return storeError(err)
	}
	if err := h.c.Triggers.Refresh(c.Request().Context(), wf.Name); err != nil {
		h.c.Log.Error("failed to refresh triggers after update", "workflow", wf.Name, "error", err)
	}
	return c.JSON(http.StatusOK, wf)
}

// Delete removes a workflow document and its trigger registrations.
// DELETE /api/v1/workflows/:name
func (h *WorkflowHandler) Delete(c echo.Context) error {
	name := c.Param("name")
	if err := h.c.Triggers.Drop(c.Request().Context(), name); err != nil {
		h.c.Log.Error("failed to drop triggers before delete", "workflow", name, "error", err)
	}
	if err := h.c.Store.Delete(name); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Validate re-checks a stored workflow document.
// GET /api/v1/workflows/:name/validate
func (h *WorkflowHandler) Validate(c echo.Context) error {
	data, err := h.c.Store.Raw(c.Param("name"))
	if err != nil {
		return storeError(err)
	}
	wf, err := workflow.Parse(data)
	if err != nil {
		errs := []string{err.Error()}
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			errs = verr.Errors
		}
		return c.JSON(http.StatusOK, map[string]any{
			"valid": false, "errors": errs, "warnings": []string{},
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"valid": true, "errors": []string{}, "warnings": workflow.Warnings(wf),
	})
}

// Run launches a manual execution with the JSON body as inputs.
// POST /api/v1/workflows/:name/run
func (h *WorkflowHandler) Run(c echo.Context) error {
	var body struct {
		Inputs map[string]any `json:"inputs"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	execution, err := h.c.Runner.Start(c.Request().Context(), c.Param("name"), models.TriggerTagManual, body.Inputs)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"execution_id": execution.ID,
		"workflow":     execution.WorkflowName,
		"status":       "accepted",
	})
}

// Enable activates a workflow's triggers.
// POST /api/v1/workflows/:name/enable
func (h *WorkflowHandler) Enable(c echo.Context) error {
	if err := h.c.Triggers.Enable(c.Request().Context(), c.Param("name")); err != nil {
		return storeError(err)
	}
	return h.Status(c)
}

// Disable deactivates a workflow's triggers.
// POST /api/v1/workflows/:name/disable
func (h *WorkflowHandler) Disable(c echo.Context) error {
	if err := h.c.Triggers.Disable(c.Request().Context(), c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.Status(c)
}

// Pause suspends trigger firings while keeping the schedule row.
// POST /api/v1/workflows/:name/pause
func (h *WorkflowHandler) Pause(c echo.Context) error {
	if err := h.c.Triggers.Pause(c.Request().Context(), c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return h.Status(c)
}

// Resume reactivates a paused workflow's triggers.
// POST /api/v1/workflows/:name/resume
func (h *WorkflowHandler) Resume(c echo.Context) error {
	if err := h.c.Triggers.Resume(c.Request().Context(), c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return h.Status(c)
}

// Status reports a workflow's trigger state.
// GET /api/v1/workflows/:name/status
func (h *WorkflowHandler) Status(c echo.Context) error {
	status, err := h.c.Triggers.Status(c.Request().Context(), c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status["name"] = c.Param("name")
	return c.JSON(http.StatusOK, status)
}

func readDocument(c echo.Context) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDocumentBytes))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read request body")
	}
	if len(content) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body is required")
	}
	return content, nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func triggerTypes(wf *models.Workflow) []string {
	types := make([]string, 0, len(wf.Triggers))
	for _, t := range wf.Triggers {
		types = append(types, t.Type)
	}
	return types
}
