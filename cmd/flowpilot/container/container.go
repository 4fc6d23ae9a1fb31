// Package container wires the daemon's components together once at boot.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/executors"
	"github.com/flowpilot/flowpilot/cmd/flowpilot/runner"
	"github.com/flowpilot/flowpilot/cmd/flowpilot/triggers"
	"github.com/flowpilot/flowpilot/common/breaker"
	"github.com/flowpilot/flowpilot/common/broadcast"
	"github.com/flowpilot/flowpilot/common/config"
	"github.com/flowpilot/flowpilot/common/db"
	"github.com/flowpilot/flowpilot/common/expr"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/report"
	"github.com/flowpilot/flowpilot/common/repository"
	"github.com/flowpilot/flowpilot/common/template"
	"github.com/flowpilot/flowpilot/common/workflow"
)

// Container holds all initialized components (singleton pattern)
type Container struct {
	Config *config.Config
	Log    *logger.Logger
	DB     *db.DB

	// Repositories
	ExecRepo  *repository.ExecutionRepository
	SchedRepo *repository.ScheduleRepository

	// Core components
	Store       *workflow.Store
	Evaluator   *expr.Evaluator
	Engine      *template.Engine
	Breakers    *breaker.Registry
	Broadcaster *broadcast.Broadcaster
	Reporter    *report.Reporter
	Registry    *executors.Registry
	Runner      *runner.Runner

	// Trigger subsystem
	Scheduler *triggers.Scheduler
	Watcher   *triggers.FileWatcher
	Webhooks  *triggers.WebhookRegistry
	Triggers  *triggers.Manager
}

// New initializes all components bottom-up: storage, evaluation, executors,
// the runner, then the trigger subsystem.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, cfg.DatabasePath(), cfg.Storage.MaxDBOpenConns, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	execRepo := repository.NewExecutionRepository(database)
	schedRepo := repository.NewScheduleRepository(database)

	store := workflow.NewStore(cfg.WorkflowsDir())
	evaluator := expr.NewEvaluator()
	engine := template.NewEngine(evaluator)
	breakers := breaker.NewRegistry(breaker.DefaultSettings(), log)
	broadcaster := broadcast.NewBroadcaster(log)
	reporter := report.NewReporter()

	registry := executors.NewRegistry()
	registry.Register(executors.NewShellExecutor())
	registry.Register(executors.NewHTTPExecutor())
	registry.Register(executors.NewFileReadExecutor())
	registry.Register(executors.NewFileWriteExecutor())
	registry.Register(executors.NewConditionExecutor(evaluator))
	registry.Register(executors.NewLoopExecutor(evaluator))
	registry.Register(executors.NewParallelExecutor())
	registry.Register(executors.NewDelayExecutor())
	registry.Register(executors.NewChatCLIExecutor(cfg.ChatCLI))
	registry.Register(executors.NewChatAPIExecutor(cfg.ChatAPI))

	run := runner.New(registry, execRepo, store, engine, evaluator, breakers, broadcaster, reporter, log)

	scheduler, err := triggers.NewScheduler(cfg.SchedulerDBPath(), run, schedRepo, cfg.Scheduler.MisfireGrace, log)
	if err != nil {
		database.Close()
		return nil, err
	}
	watcher, err := triggers.NewFileWatcher(run, debounceDuration(cfg), log)
	if err != nil {
		scheduler.Stop(ctx)
		database.Close()
		return nil, err
	}
	webhooks := triggers.NewWebhookRegistry(run, log)
	manager := triggers.NewManager(store, scheduler, watcher, webhooks, schedRepo, log)

	return &Container{
		Config:      cfg,
		Log:         log,
		DB:          database,
		ExecRepo:    execRepo,
		SchedRepo:   schedRepo,
		Store:       store,
		Evaluator:   evaluator,
		Engine:      engine,
		Breakers:    breakers,
		Broadcaster: broadcaster,
		Reporter:    reporter,
		Registry:    registry,
		Runner:      run,
		Scheduler:   scheduler,
		Watcher:     watcher,
		Webhooks:    webhooks,
		Triggers:    manager,
	}, nil
}

// Shutdown tears components down in reverse order of construction.
func (c *Container) Shutdown(ctx context.Context) {
	if err := c.Scheduler.Stop(ctx); err != nil {
		c.Log.Error("scheduler shutdown failed", "error", err)
	}
	if err := c.Watcher.Close(); err != nil {
		c.Log.Error("file watcher shutdown failed", "error", err)
	}
	c.Runner.Shutdown(ctx)
	if err := c.DB.Close(); err != nil {
		c.Log.Error("database close failed", "error", err)
	}
}

func debounceDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Scheduler.DebounceSeconds * float64(time.Second))
}
