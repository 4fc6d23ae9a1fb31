// Package report aggregates per-execution failure summaries, keyed by
// execution id and cleared on request.
package report

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// NodeError is one recorded node failure.
type NodeError struct {
	NodeID   string    `json:"node_id"`
	NodeType string    `json:"node_type"`
	Message  string    `json:"message"`
	Category string    `json:"category,omitempty"`
	At       time.Time `json:"at"`
}

type executionReport struct {
	totalNodes int
	executed   int
	failed     int
	errors     []NodeError
}

// Reporter accumulates node outcomes per execution.
type Reporter struct {
	mu      sync.Mutex
	reports map[string]*executionReport
}

// NewReporter creates an empty reporter
func NewReporter() *Reporter {
	return &Reporter{reports: make(map[string]*executionReport)}
}

// Begin registers an execution with its total node count.
func (r *Reporter) Begin(executionID string, totalNodes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[executionID] = &executionReport{totalNodes: totalNodes}
}

// RecordSuccess counts an executed node.
func (r *Reporter) RecordSuccess(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rep := r.reports[executionID]; rep != nil {
		rep.executed++
	}
}

// RecordError counts a failed node and stores its error record.
func (r *Reporter) RecordError(executionID, nodeID, nodeType, message, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := r.reports[executionID]
	if rep == nil {
		rep = &executionReport{}
		r.reports[executionID] = rep
	}
	rep.executed++
	rep.failed++
	rep.errors = append(rep.errors, NodeError{
		NodeID:   nodeID,
		NodeType: nodeType,
		Message:  message,
		Category: category,
		At:       time.Now().UTC(),
	})
}

// Summary returns the aggregate for an execution as a mapping.
func (r *Reporter) Summary(executionID string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := r.reports[executionID]
	if rep == nil {
		return map[string]any{
			"total_nodes": 0, "executed": 0, "failed": 0,
			"success_rate": 0.0, "errors": []NodeError{},
		}
	}

	rate := 0.0
	if rep.executed > 0 {
		rate = float64(rep.executed-rep.failed) / float64(rep.executed)
	}
	errs := make([]NodeError, len(rep.errors))
	copy(errs, rep.errors)

	return map[string]any{
		"total_nodes":  rep.totalNodes,
		"executed":     rep.executed,
		"failed":       rep.failed,
		"success_rate": rate,
		"errors":       errs,
	}
}

// Markdown renders the execution summary as a Markdown report.
func (r *Reporter) Markdown(executionID string) string {
	summary := r.Summary(executionID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Execution %s\n\n", executionID)
	fmt.Fprintf(&sb, "- Total nodes: %v\n", summary["total_nodes"])
	fmt.Fprintf(&sb, "- Executed: %v\n", summary["executed"])
	fmt.Fprintf(&sb, "- Failed: %v\n", summary["failed"])
	fmt.Fprintf(&sb, "- Success rate: %.0f%%\n", summary["success_rate"].(float64)*100)

	errs := summary["errors"].([]NodeError)
	if len(errs) > 0 {
		sb.WriteString("\n### Failures\n\n")
		for _, e := range errs {
			fmt.Fprintf(&sb, "- **%s** (%s): %s", e.NodeID, e.NodeType, e.Message)
			if e.Category != "" {
				fmt.Fprintf(&sb, " _[%s]_", e.Category)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Clear drops the aggregate for an execution.
func (r *Reporter) Clear(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reports, executionID)
}
