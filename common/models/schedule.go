package models

import "time"

// Schedule is the persistent record of a workflow's active triggers.
// Created when a workflow is enabled, deleted when its file disappears,
// mutated on every scheduled firing.
type Schedule struct {
	ID            int64      `json:"id"`
	WorkflowName  string     `json:"workflow_name"`
	WorkflowPath  string     `json:"workflow_path"`
	Enabled       bool       `json:"enabled"`
	TriggerConfig string     `json:"trigger_config"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastStatus    *string    `json:"last_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
