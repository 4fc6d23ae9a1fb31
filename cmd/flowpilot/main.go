package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
	"github.com/flowpilot/flowpilot/cmd/flowpilot/routes"
	"github.com/flowpilot/flowpilot/common/config"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("flowpilot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	c, err := container.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(cfg.PIDFile(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Warn("cannot write pid file", "path", cfg.PIDFile(), "error", err)
	}

	if err := c.Triggers.Restore(ctx); err != nil {
		log.Error("failed to restore trigger state", "error", err)
	}
	c.Scheduler.Start()

	cleanupDone := make(chan struct{})
	go cleanupLoop(c, cleanupDone)

	e := setupEcho()
	setupMiddleware(e)
	routes.Register(e, c)

	srv := server.New(cfg.Service.Name, cfg.Service.Host, cfg.Service.Port, e, log)
	srv.OnShutdown(func(shutdownCtx context.Context) {
		close(cleanupDone)
		c.Shutdown(shutdownCtx)
		os.Remove(cfg.PIDFile())
	})

	if err := srv.Start(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// cleanupLoop prunes old executions on the configured interval until the
// done channel closes.
func cleanupLoop(c *container.Container, done <-chan struct{}) {
	ticker := time.NewTicker(c.Config.Storage.CleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n, err := c.ExecRepo.CleanupOld(context.Background(), c.Config.Storage.CleanupDays)
			if err != nil {
				c.Log.Error("execution cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				c.Log.Info("pruned old executions", "removed", n, "older_than_days", c.Config.Storage.CleanupDays)
			}
		}
	}
}
