package models

import (
	"fmt"
	"time"
)

// ResultStatus is the outcome of a single executor invocation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultSkipped ResultStatus = "skipped"
)

// NodeResult is what every executor returns: a status, captured streams, a
// human-readable primary payload and a structured supplementary mapping.
type NodeResult struct {
	Status       ResultStatus   `json:"status"`
	Stdout       string         `json:"stdout,omitempty"`
	Stderr       string         `json:"stderr,omitempty"`
	Output       string         `json:"output,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	DurationMS   int64          `json:"duration_ms"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// NewSuccessResult builds a success result with the given primary payload.
func NewSuccessResult(output string) *NodeResult {
	return &NodeResult{
		Status: ResultSuccess,
		Output: output,
		Data:   map[string]any{},
	}
}

// NewErrorResult builds an error result with a formatted message.
func NewErrorResult(format string, args ...any) *NodeResult {
	return &NodeResult{
		Status:       ResultError,
		ErrorMessage: fmt.Sprintf(format, args...),
		Data:         map[string]any{},
	}
}

// NewSkippedResult builds a skipped result with a reason.
func NewSkippedResult(reason string) *NodeResult {
	return &NodeResult{
		Status:       ResultSkipped,
		ErrorMessage: reason,
		Data:         map[string]any{},
	}
}

// Stamp fills in timestamps and duration from a start time.
func (r *NodeResult) Stamp(started time.Time) *NodeResult {
	r.StartedAt = started
	r.FinishedAt = time.Now()
	r.DurationMS = r.FinishedAt.Sub(started).Milliseconds()
	return r
}

// SetData sets a key in the structured data mapping.
func (r *NodeResult) SetData(key string, value any) *NodeResult {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[key] = value
	return r
}

// ContextValue is the shape a completed node exposes to templates and
// expressions: {stdout, stderr, output, data, status}.
func (r *NodeResult) ContextValue() map[string]any {
	return map[string]any{
		"stdout": r.Stdout,
		"stderr": r.Stderr,
		"output": r.Output,
		"data":   r.Data,
		"status": string(r.Status),
	}
}
