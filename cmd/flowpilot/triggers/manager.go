package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/repository"
	"github.com/flowpilot/flowpilot/common/workflow"
)

// Manager coordinates the trigger subsystems and the persistent schedule
// rows. Enabling a workflow registers all of its declared triggers; pausing
// unregisters them while keeping the schedule row for later resume.
type Manager struct {
	store     *workflow.Store
	scheduler *Scheduler
	watcher   *FileWatcher
	webhooks  *WebhookRegistry
	schedules *repository.ScheduleRepository
	log       *logger.Logger

	mu     sync.Mutex
	paused map[string]bool
}

// NewManager creates a trigger manager
func NewManager(
	store *workflow.Store,
	scheduler *Scheduler,
	watcher *FileWatcher,
	webhooks *WebhookRegistry,
	schedules *repository.ScheduleRepository,
	log *logger.Logger,
) *Manager {
	return &Manager{
		store:     store,
		scheduler: scheduler,
		watcher:   watcher,
		webhooks:  webhooks,
		schedules: schedules,
		log:       log,
		paused:    make(map[string]bool),
	}
}

// Enable registers all triggers of a workflow and upserts its schedule row.
func (m *Manager) Enable(ctx context.Context, name string) error {
	wf, err := m.store.Load(name)
	if err != nil {
		return err
	}
	if err := m.register(wf); err != nil {
		m.unregister(name)
		return err
	}

	m.mu.Lock()
	delete(m.paused, name)
	m.mu.Unlock()

	triggerConfig, err := json.Marshal(wf.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode trigger config: %w", err)
	}
	return m.schedules.Upsert(ctx, &models.Schedule{
		WorkflowName:  wf.Name,
		WorkflowPath:  m.store.Path(wf.Name),
		Enabled:       true,
		TriggerConfig: string(triggerConfig),
		NextRun:       m.scheduler.NextRun(wf.Name),
	})
}

// Disable unregisters all triggers and marks the schedule row disabled.
// The row survives so the workflow can be enabled again later.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.unregister(name)
	m.scheduler.Remove(name)

	m.mu.Lock()
	delete(m.paused, name)
	m.mu.Unlock()

	return m.schedules.SetEnabled(ctx, name, false)
}

// Drop unregisters all triggers and deletes the schedule row. Used when the
// workflow file itself disappears.
func (m *Manager) Drop(ctx context.Context, name string) error {
	m.unregister(name)
	m.scheduler.Remove(name)

	m.mu.Lock()
	delete(m.paused, name)
	m.mu.Unlock()

	return m.schedules.Delete(ctx, name)
}

// Pause suspends only the cron/interval job, keeping file watches, webhooks
// and the schedule row (marked disabled) for later resume.
func (m *Manager) Pause(ctx context.Context, name string) error {
	sched, err := m.schedules.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if sched == nil {
		return fmt.Errorf("workflow %q has no active triggers", name)
	}

	m.scheduler.remove(name)
	m.mu.Lock()
	m.paused[name] = true
	m.mu.Unlock()

	return m.schedules.SetEnabled(ctx, name, false)
}

// Resume re-registers the triggers of a paused workflow.
func (m *Manager) Resume(ctx context.Context, name string) error {
	sched, err := m.schedules.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if sched == nil {
		return fmt.Errorf("workflow %q has no schedule to resume", name)
	}
	return m.Enable(ctx, name)
}

// Refresh re-registers a workflow's triggers after its document changed,
// but only when it is currently enabled.
func (m *Manager) Refresh(ctx context.Context, name string) error {
	sched, err := m.schedules.GetByName(ctx, name)
	if err != nil || sched == nil || !sched.Enabled {
		return err
	}
	return m.Enable(ctx, name)
}

// Status describes a workflow's trigger state.
func (m *Manager) Status(ctx context.Context, name string) (map[string]any, error) {
	sched, err := m.schedules.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	paused := m.paused[name]
	m.mu.Unlock()

	status := map[string]any{
		"enabled":   sched != nil && sched.Enabled,
		"paused":    paused,
		"scheduled": m.scheduler.Scheduled(name),
		"watching":  m.watcher.Watching(name),
		"webhooks":  m.webhooks.Paths(name),
	}
	if next := m.scheduler.NextRun(name); next != nil {
		status["next_run"] = next
	}
	if sched != nil {
		status["last_run"] = sched.LastRun
		status["last_status"] = sched.LastStatus
	}
	return status, nil
}

// Restore rebuilds trigger state at boot: persisted schedules are restored
// (firing any missed run within the grace window), schedule rows whose
// workflow file disappeared are dropped, and enabled rows are re-registered.
func (m *Manager) Restore(ctx context.Context) error {
	m.scheduler.Restore(m.store.Load)

	rows, err := m.schedules.List(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !m.store.Exists(row.WorkflowName) {
			m.log.Warn("dropping schedule for deleted workflow", "workflow", row.WorkflowName)
			if err := m.Drop(ctx, row.WorkflowName); err != nil {
				m.log.Error("failed to drop schedule", "workflow", row.WorkflowName, "error", err)
			}
			continue
		}
		if !row.Enabled {
			m.mu.Lock()
			m.paused[row.WorkflowName] = true
			m.mu.Unlock()
			continue
		}
		if err := m.Enable(ctx, row.WorkflowName); err != nil {
			m.log.Error("failed to restore triggers", "workflow", row.WorkflowName, "error", err)
		}
	}
	m.log.Info("trigger state restored", "schedules", len(rows))
	return nil
}

func (m *Manager) register(wf *models.Workflow) error {
	if _, err := m.scheduler.Add(wf); err != nil {
		return err
	}
	if _, err := m.watcher.Add(wf); err != nil {
		return err
	}
	if _, err := m.webhooks.Add(wf); err != nil {
		return err
	}
	return nil
}

func (m *Manager) unregister(name string) {
	m.scheduler.remove(name)
	m.watcher.Remove(name)
	m.webhooks.Remove(name)
}
