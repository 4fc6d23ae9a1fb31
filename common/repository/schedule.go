package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/common/db"
	"github.com/flowpilot/flowpilot/common/models"
)

// ScheduleRepository handles database operations for schedule rows
type ScheduleRepository struct {
	db *db.DB
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(database *db.DB) *ScheduleRepository {
	return &ScheduleRepository{db: database}
}

// Upsert creates or replaces the schedule row for a workflow
func (r *ScheduleRepository) Upsert(ctx context.Context, sched *models.Schedule) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO schedules (workflow_name, workflow_path, enabled, trigger_config, next_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_name) DO UPDATE SET
			workflow_path = excluded.workflow_path,
			enabled = excluded.enabled,
			trigger_config = excluded.trigger_config,
			next_run = excluded.next_run,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		sched.WorkflowName,
		sched.WorkflowPath,
		sched.Enabled,
		sched.TriggerConfig,
		sched.NextRun,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

// SetEnabled flips the enabled flag
func (r *ScheduleRepository) SetEnabled(ctx context.Context, workflowName string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = ?, updated_at = ? WHERE workflow_name = ?`,
		enabled, time.Now().UTC(), workflowName,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule enabled flag: %w", err)
	}
	return nil
}

// RecordRun stamps last_run/last_status/next_run after a scheduled firing
func (r *ScheduleRepository) RecordRun(ctx context.Context, workflowName, status string, nextRun *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules
		SET last_run = ?, last_status = ?, next_run = ?, updated_at = ?
		WHERE workflow_name = ?
	`, time.Now().UTC(), status, nextRun, time.Now().UTC(), workflowName)
	if err != nil {
		return fmt.Errorf("failed to record schedule run: %w", err)
	}
	return nil
}

// GetByName retrieves a schedule by workflow name, nil when absent
func (r *ScheduleRepository) GetByName(ctx context.Context, workflowName string) (*models.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_name, workflow_path, enabled, trigger_config,
		       next_run, last_run, last_status, created_at, updated_at
		FROM schedules
		WHERE workflow_name = ?
	`, workflowName)

	sched, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sched, nil
}

// List retrieves all schedule rows
func (r *ScheduleRepository) List(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_name, workflow_path, enabled, trigger_config,
		       next_run, last_run, last_status, created_at, updated_at
		FROM schedules
		ORDER BY workflow_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		scheds = append(scheds, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return scheds, nil
}

// Delete removes the schedule row for a workflow
func (r *ScheduleRepository) Delete(ctx context.Context, workflowName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE workflow_name = ?`, workflowName)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	sched := &models.Schedule{}
	err := row.Scan(
		&sched.ID,
		&sched.WorkflowName,
		&sched.WorkflowPath,
		&sched.Enabled,
		&sched.TriggerConfig,
		&sched.NextRun,
		&sched.LastRun,
		&sched.LastStatus,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sched, nil
}
