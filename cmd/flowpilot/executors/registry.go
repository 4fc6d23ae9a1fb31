// Package executors implements the node executors and their registry. Each
// executor handles one node type and returns a NodeResult; the registry
// dispatches by type and enforces per-node timeouts.
package executors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
)

// Default timeouts per executor kind, overridable per node via the
// timeout config key (seconds).
const (
	DefaultShellTimeout       = 60 * time.Second
	DefaultHTTPTimeout        = 30 * time.Second
	DefaultFileTimeout        = 60 * time.Second
	DefaultChatCLITimeout     = 300 * time.Second
	DefaultChatAPITimeout     = 120 * time.Second
	DefaultControlFlowTimeout = 300 * time.Second
)

// Context carries per-execution state into an executor.
type Context struct {
	ExecutionID  string
	WorkflowName string

	// Vars is the template and expression context: inputs, nodes, env,
	// execution metadata and any active loop variables.
	Vars map[string]any

	Log *logger.Logger
}

// Executor runs one node type.
type Executor interface {
	Type() string
	DefaultTimeout() time.Duration
	Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult
}

// Registry maps node types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor, replacing any previous one for the same type.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Type()] = e
}

// Get looks up an executor by node type.
func (r *Registry) Get(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[nodeType]
	return e, ok
}

// Types returns the registered node types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Run dispatches a node to its executor under the effective timeout. An
// unknown node type fails the node. A timeout produces an error result
// classified as transient so retry policies can act on it.
func (r *Registry) Run(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	exec, ok := r.Get(node.Type)
	if !ok {
		return models.NewErrorResult("No executor registered for node type %q", node.Type)
	}

	timeout := exec.DefaultTimeout()
	if secs, ok := node.ConfigFloat("timeout"); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *models.NodeResult, 1)
	go func() {
		done <- exec.Execute(runCtx, node, rc)
	}()

	select {
	case result := <-done:
		return result
	case <-runCtx.Done():
		if ctx.Err() != nil {
			// parent cancelled, not a deadline
			result := models.NewSkippedResult("execution cancelled")
			result.SetData("cancelled", true)
			return result
		}
		result := models.NewErrorResult("node %q timed out after %s", node.ID, timeout)
		result.SetData("category", "transient")
		result.SetData("timeout_seconds", timeout.Seconds())
		return result
	}
}

// errorf is a small helper for executors building config errors.
func errorf(node *models.Node, format string, args ...any) *models.NodeResult {
	return models.NewErrorResult("node %q: %s", node.ID, fmt.Sprintf(format, args...))
}
