// Package routes registers the control API routes.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
	"github.com/flowpilot/flowpilot/cmd/flowpilot/handlers"
)

// Register wires all endpoint groups onto the Echo instance.
func Register(e *echo.Echo, c *container.Container) {
	RegisterWorkflowRoutes(e, c)
	RegisterExecutionRoutes(e, c)
	RegisterHookRoutes(e, c)
	RegisterHealthRoutes(e, c)
}

// RegisterWorkflowRoutes registers workflow document and trigger routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	workflows := e.Group("/api/v1/workflows")
	{
		workflows.GET("", h.List)                    // GET    /api/v1/workflows
		workflows.POST("", h.Create)                 // POST   /api/v1/workflows
		workflows.GET("/:name", h.Get)               // GET    /api/v1/workflows/{name}
		workflows.GET("/:name/raw", h.GetRaw)        // GET    /api/v1/workflows/{name}/raw
		workflows.GET("/:name/validate", h.Validate) // GET    /api/v1/workflows/{name}/validate
		workflows.PUT("/:name", h.Update)            // PUT    /api/v1/workflows/{name}
		workflows.DELETE("/:name", h.Delete)         // DELETE /api/v1/workflows/{name}
		workflows.POST("/:name/run", h.Run)          // POST   /api/v1/workflows/{name}/run
		workflows.POST("/:name/enable", h.Enable)    // POST   /api/v1/workflows/{name}/enable
		workflows.POST("/:name/disable", h.Disable)  // POST   /api/v1/workflows/{name}/disable
		workflows.POST("/:name/pause", h.Pause)      // POST   /api/v1/workflows/{name}/pause
		workflows.POST("/:name/resume", h.Resume)    // POST   /api/v1/workflows/{name}/resume
		workflows.GET("/:name/status", h.Status)     // GET    /api/v1/workflows/{name}/status
	}
}

// RegisterExecutionRoutes registers execution history and live-stream routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)
	ws := handlers.NewWSHandler(c)

	executions := e.Group("/api/v1/executions")
	{
		executions.GET("", h.List)                  // GET    /api/v1/executions
		executions.GET("/stats", h.Stats)           // GET    /api/v1/executions/stats
		executions.GET("/:id", h.Get)               // GET    /api/v1/executions/{id}
		executions.GET("/:id/logs", h.Logs)         // GET    /api/v1/executions/{id}/logs
		executions.GET("/:id/ws", ws.Watch)         // GET    /api/v1/executions/{id}/ws
		executions.DELETE("/:id", h.Cancel)         // DELETE /api/v1/executions/{id} (cancel)
	}
}

// RegisterHookRoutes registers the inbound webhook catch-all
func RegisterHookRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHookHandler(c)
	e.POST("/hooks/*", h.Receive)
}

// RegisterHealthRoutes registers health and readiness probes
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c)
	e.GET("/health", h.Health)
	e.GET("/health/ready", h.Ready)
	e.GET("/health/live", h.Live)
}
