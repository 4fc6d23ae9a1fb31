package runner

import (
	"context"
	"errors"
	"time"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/executors"
	"github.com/flowpilot/flowpilot/common/breaker"
	"github.com/flowpilot/flowpilot/common/broadcast"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

// breakerGuarded lists node types that call shared remote resources and run
// behind a named circuit breaker.
var breakerGuarded = map[string]bool{
	"http":     true,
	"chat-api": true,
	"chat-cli": true,
}

// rawConfigKeys are node attributes holding expressions evaluated later,
// which must not be template-rendered.
var rawConfigKeys = map[string]bool{
	"if":       true,
	"for_each": true,
	"break_if": true,
}

// runNode renders, dispatches and records one node. Control-flow nodes
// delegate to their expansion helpers after the controller itself runs.
func (r *Runner) runNode(ctx context.Context, state *runState, node *models.Node, log *logger.Logger) *models.NodeResult {
	nodeLog := log.WithNodeID(node.ID)
	nodeLog.Info("node started", "type", node.Type)
	r.broadcaster.Publish(state.execution.ID, broadcast.NewFrame(broadcast.FrameStatus, state.execution.ID, map[string]any{
		"node_id": node.ID,
		"status":  string(models.NodeRunning),
	}))

	result := r.dispatch(ctx, state, node)

	switch node.Type {
	case "loop":
		if result.Status == models.ResultSuccess {
			result = r.runLoop(ctx, state, node, result, nodeLog)
		}
	case "parallel":
		if result.Status == models.ResultSuccess {
			result = r.runParallel(ctx, state, node, result, nodeLog)
		}
	}

	r.persistNode(state.execution.ID, node.ID, node.Type, result)
	r.publishNodeFrame(state.execution.ID, node.ID, result)

	if result.Status == models.ResultError {
		nodeLog.Error("node failed", "error", result.ErrorMessage, "duration_ms", result.DurationMS)
	} else {
		nodeLog.Info("node finished", "status", string(result.Status), "duration_ms", result.DurationMS)
	}
	return result
}

// dispatch renders the node's attributes and runs it through the retry
// policy, with breaker-guarded types wrapped by their circuit breaker.
func (r *Runner) dispatch(ctx context.Context, state *runState, node *models.Node) *models.NodeResult {
	rendered, err := r.renderNode(node, state.vars())
	if err != nil {
		result := models.NewErrorResult("failed to render node %q: %v", node.ID, err)
		result.SetData("category", string(retry.CategoryPermanent))
		return result.Stamp(time.Now().UTC())
	}

	policy := r.policyFor(state.workflow, rendered)
	rc := &executors.Context{
		ExecutionID:  state.execution.ID,
		WorkflowName: state.execution.WorkflowName,
		Vars:         state.vars(),
		Log:          r.log.WithExecutionID(state.execution.ID).WithNodeID(node.ID),
	}

	return retry.Execute(ctx, policy, func(attemptCtx context.Context) *models.NodeResult {
		if !breakerGuarded[rendered.Type] {
			return r.registry.Run(attemptCtx, rendered, rc)
		}

		out, err := r.breakers.Execute(rendered.Type, func() (any, error) {
			result := r.registry.Run(attemptCtx, rendered, rc)
			if result.Status == models.ResultError {
				return result, errors.New(result.ErrorMessage)
			}
			return result, nil
		})
		if result, ok := out.(*models.NodeResult); ok {
			return result
		}
		if errors.Is(err, breaker.ErrCircuitOpen) {
			result := models.NewErrorResult("%v", err)
			result.SetData("category", string(retry.CategoryResource))
			result.SetData("retry_after", 30.0)
			return result.Stamp(time.Now().UTC())
		}
		return models.NewErrorResult("%v", err).Stamp(time.Now().UTC())
	})
}

// renderNode returns a copy of the node with its config rendered against
// the context. Expression attributes stay raw.
func (r *Runner) renderNode(node *models.Node, vars map[string]any) (*models.Node, error) {
	rendered := &models.Node{
		ID:        node.ID,
		Type:      node.Type,
		DependsOn: node.DependsOn,
		Retry:     node.Retry,
		Config:    make(map[string]any, len(node.Config)),
	}
	for key, value := range node.Config {
		if rawConfigKeys[key] {
			rendered.Config[key] = value
			continue
		}
		out, err := r.engine.Render(value, vars)
		if err != nil {
			return nil, err
		}
		rendered.Config[key] = out
	}
	return rendered, nil
}

// policyFor merges workflow settings and the node's retry block into the
// effective retry policy.
func (r *Runner) policyFor(wf *models.Workflow, node *models.Node) retry.Policy {
	base := retry.DefaultPolicy()
	if wf.Settings.Retry > 0 {
		base.MaxAttempts = wf.Settings.Retry
	}
	if wf.Settings.RetryDelay > 0 {
		base.InitialDelay = time.Duration(wf.Settings.RetryDelay * float64(time.Second))
	}
	// control-flow nodes never retry; their children carry their own policy
	switch node.Type {
	case "condition", "loop", "parallel", "delay":
		base.MaxAttempts = 1
	}
	return retry.PolicyFromConfig(node.Retry, base)
}

// persistNode writes the node row. Persistence failures are logged, not
// fatal to the execution.
func (r *Runner) persistNode(executionID, nodeID, nodeType string, result *models.NodeResult) {
	row := &models.NodeExecution{
		ExecutionID: executionID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		Status:      nodeStatus(result.Status),
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		Output:      result.Output,
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		finished := result.FinishedAt
		duration := result.DurationMS
		row.StartedAt = &started
		row.FinishedAt = &finished
		row.DurationMS = &duration
	}
	if result.ErrorMessage != "" {
		msg := result.ErrorMessage
		row.Error = &msg
	}
	if err := r.repo.CreateNode(context.Background(), row); err != nil {
		r.log.Error("failed to persist node execution",
			"execution_id", executionID, "node_id", nodeID, "error", err)
	}
}

// publishNodeFrame emits the per-node completion log frame, plus an error
// frame for failed nodes.
func (r *Runner) publishNodeFrame(executionID, nodeID string, result *models.NodeResult) {
	frame := map[string]any{
		"node_id":     nodeID,
		"status":      string(nodeStatus(result.Status)),
		"duration_ms": result.DurationMS,
		"output":      result.Output,
	}
	if result.Stdout != "" {
		frame["stdout"] = result.Stdout
	}
	if result.Stderr != "" {
		frame["stderr"] = result.Stderr
	}
	if result.ErrorMessage != "" {
		frame["error"] = result.ErrorMessage
	}
	r.broadcaster.Publish(executionID, broadcast.NewFrame(broadcast.FrameLog, executionID, frame))

	if result.Status == models.ResultError {
		r.broadcaster.Publish(executionID, broadcast.NewFrame(broadcast.FrameError, executionID, map[string]any{
			"node_id": nodeID,
			"error":   result.ErrorMessage,
		}))
	}
}

func nodeStatus(status models.ResultStatus) models.NodeExecutionStatus {
	switch status {
	case models.ResultSuccess:
		return models.NodeSuccess
	case models.ResultSkipped:
		return models.NodeSkipped
	default:
		return models.NodeError
	}
}
