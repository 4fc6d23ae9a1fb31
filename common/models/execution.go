package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Execution is one attempted run of a workflow with a specific input mapping.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	WorkflowPath string          `json:"workflow_path"`
	Status       ExecutionStatus `json:"status"`
	TriggerType  string          `json:"trigger_type"`
	Inputs       map[string]any  `json:"inputs,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	DurationMS   *int64          `json:"duration_ms,omitempty"`
	Error        *string         `json:"error,omitempty"`
}

// NodeExecutionStatus is the recorded state of a single node.
type NodeExecutionStatus string

const (
	NodePending NodeExecutionStatus = "pending"
	NodeRunning NodeExecutionStatus = "running"
	NodeSuccess NodeExecutionStatus = "success"
	NodeError   NodeExecutionStatus = "error"
	NodeSkipped NodeExecutionStatus = "skipped"
)

// NodeExecution is the recorded result of a single node within an execution.
// Rows cascade-delete with their execution.
type NodeExecution struct {
	ID          int64               `json:"id"`
	ExecutionID string              `json:"execution_id"`
	NodeID      string              `json:"node_id"`
	NodeType    string              `json:"node_type"`
	Status      NodeExecutionStatus `json:"status"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	DurationMS  *int64              `json:"duration_ms,omitempty"`
	Stdout      string              `json:"stdout,omitempty"`
	Stderr      string              `json:"stderr,omitempty"`
	Output      string              `json:"output,omitempty"`
	Error       *string             `json:"error,omitempty"`
}

// ExecutionStats aggregates executions for the stats endpoint.
type ExecutionStats struct {
	Total     int64            `json:"total"`
	ByStatus  map[string]int64 `json:"by_status"`
	AvgMS     float64          `json:"avg_duration_ms"`
	Workflows int64            `json:"workflows"`
}
