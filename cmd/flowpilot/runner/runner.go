// Package runner schedules workflow executions: it resolves the node order,
// renders each node's attributes against the live context, dispatches nodes
// through the executor registry under retry and circuit-breaker policies,
// and records every step in the execution store while streaming frames to
// live subscribers.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/executors"
	"github.com/flowpilot/flowpilot/common/breaker"
	"github.com/flowpilot/flowpilot/common/broadcast"
	"github.com/flowpilot/flowpilot/common/expr"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/report"
	"github.com/flowpilot/flowpilot/common/repository"
	"github.com/flowpilot/flowpilot/common/template"
	"github.com/flowpilot/flowpilot/common/workflow"
)

// Runner executes workflows.
type Runner struct {
	registry    *executors.Registry
	repo        *repository.ExecutionRepository
	store       *workflow.Store
	engine      *template.Engine
	eval        *expr.Evaluator
	breakers    *breaker.Registry
	broadcaster *broadcast.Broadcaster
	reporter    *report.Reporter
	log         *logger.Logger

	heartbeatEvery time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a runner
func New(
	registry *executors.Registry,
	repo *repository.ExecutionRepository,
	store *workflow.Store,
	engine *template.Engine,
	eval *expr.Evaluator,
	breakers *breaker.Registry,
	broadcaster *broadcast.Broadcaster,
	reporter *report.Reporter,
	log *logger.Logger,
) *Runner {
	return &Runner{
		registry:       registry,
		repo:           repo,
		store:          store,
		engine:         engine,
		eval:           eval,
		breakers:       breakers,
		broadcaster:    broadcaster,
		reporter:       reporter,
		log:            log,
		heartbeatEvery: heartbeatInterval,
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Start creates an execution for the named workflow and runs it in the
// background. The returned execution is in pending state.
func (r *Runner) Start(ctx context.Context, name, triggerType string, callerInputs map[string]any) (*models.Execution, error) {
	wf, err := r.store.Load(name)
	if err != nil {
		return nil, err
	}

	inputs, err := MergeInputs(wf, callerInputs)
	if err != nil {
		return nil, err
	}

	execution := &models.Execution{
		ID:           uuid.NewString(),
		WorkflowName: wf.Name,
		WorkflowPath: r.store.Path(wf.Name),
		Status:       models.ExecutionPending,
		TriggerType:  triggerType,
		Inputs:       inputs,
		StartedAt:    time.Now().UTC(),
	}
	if err := r.repo.Create(ctx, execution); err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if wf.Settings.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(),
			time.Duration(wf.Settings.Timeout*float64(time.Second)))
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	r.mu.Lock()
	r.cancels[execution.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, execution.ID)
			r.mu.Unlock()
		}()
		r.run(runCtx, execution, wf, inputs)
	}()

	return execution, nil
}

// Cancel requests cancellation of a running execution. Returns false when
// the execution is not currently running.
func (r *Runner) Cancel(executionID string) bool {
	r.mu.Lock()
	cancel, exists := r.cancels[executionID]
	r.mu.Unlock()
	if exists {
		cancel()
	}
	return exists
}

// ActiveCount returns the number of executions currently running.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Shutdown cancels all running executions and waits for them to settle or
// for the context to expire.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("shutdown timed out with executions still settling")
	}
}

// run drives one execution to a terminal state.
func (r *Runner) run(ctx context.Context, execution *models.Execution, wf *models.Workflow, inputs map[string]any) {
	log := r.log.WithExecutionID(execution.ID).WithWorkflow(wf.Name)
	log.Info("execution started", "trigger", execution.TriggerType, "nodes", len(wf.Nodes))

	if err := r.repo.UpdateStatus(context.Background(), execution.ID, models.ExecutionRunning); err != nil {
		log.Error("failed to mark execution running", "error", err)
	}
	r.broadcaster.Publish(execution.ID, broadcast.NewFrame(broadcast.FrameStatus, execution.ID, map[string]any{
		"status":   string(models.ExecutionRunning),
		"workflow": wf.Name,
	}))
	r.reporter.Begin(execution.ID, len(wf.Nodes))

	stopHeartbeat := make(chan struct{})
	go r.heartbeat(execution.ID, stopHeartbeat)

	state := newRunState(execution, wf, inputs)
	runErr := r.runGraph(ctx, state, log)
	close(stopHeartbeat)

	status := models.ExecutionSuccess
	var errText *string
	switch {
	case ctx.Err() == context.Canceled:
		status = models.ExecutionCancelled
		msg := "execution cancelled"
		errText = &msg
	case ctx.Err() == context.DeadlineExceeded:
		status = models.ExecutionFailed
		msg := fmt.Sprintf("execution exceeded the %gs workflow timeout", wf.Settings.Timeout)
		errText = &msg
	case runErr != nil:
		status = models.ExecutionFailed
		msg := runErr.Error()
		errText = &msg
	}

	if err := r.repo.Finish(context.Background(), execution.ID, status, errText); err != nil {
		log.Error("failed to finish execution", "error", err)
	}

	if status == models.ExecutionFailed && wf.Settings.EffectiveOnError() == models.OnErrorNotify {
		log.Warn("execution failure report\n" + r.reporter.Markdown(execution.ID))
	}

	final := map[string]any{
		"status":      string(status),
		"duration_ms": time.Since(execution.StartedAt).Milliseconds(),
		"summary":     r.reporter.Summary(execution.ID),
	}
	if errText != nil {
		final["error"] = *errText
	}
	r.broadcaster.Finish(execution.ID, broadcast.NewFrame(broadcast.FrameStatus, execution.ID, final))
	r.reporter.Clear(execution.ID)

	log.Info("execution finished", "status", string(status))
}

// heartbeatInterval is how often an in-flight execution tells its stream
// subscribers it is still alive.
const heartbeatInterval = 15 * time.Second

func (r *Runner) heartbeat(executionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.broadcaster.Publish(executionID, broadcast.NewFrame(broadcast.FrameHeartbeat, executionID, nil))
		}
	}
}

// runGraph walks the scheduling order, propagating skips and honoring the
// on_error policy. Returns the first node error unless on_error continues.
func (r *Runner) runGraph(ctx context.Context, state *runState, log *logger.Logger) error {
	order, claimed, branchOf, err := schedulingPlan(state.workflow)
	if err != nil {
		return err
	}

	onError := state.workflow.Settings.EffectiveOnError()
	var firstErr error
	stopped := false

	for _, node := range order {
		if _, isClaimed := claimed[node.ID]; isClaimed {
			continue
		}
		if ctx.Err() != nil {
			r.recordSkip(state, node, "execution cancelled")
			continue
		}
		if stopped {
			r.recordSkip(state, node, "stopped after upstream failure")
			continue
		}
		if reason := r.skipReason(state, node, branchOf); reason != "" {
			r.recordSkip(state, node, reason)
			continue
		}

		result := r.runNode(ctx, state, node, log)
		state.setResult(node.ID, result)

		switch result.Status {
		case models.ResultError:
			category, _ := result.Data["category"].(string)
			r.reporter.RecordError(state.execution.ID, node.ID, node.Type, result.ErrorMessage, category)
			if firstErr == nil {
				firstErr = fmt.Errorf("node %q failed: %s", node.ID, result.ErrorMessage)
			}
			if onError == models.OnErrorStop {
				stopped = true
			}
		case models.ResultSuccess:
			r.reporter.RecordSuccess(state.execution.ID)
		}
	}

	return firstErr
}

// skipReason decides whether a node must be skipped before dispatch:
// an upstream failure or skip propagates, and a condition branch not taken
// is skipped.
func (r *Runner) skipReason(state *runState, node *models.Node, branchOf map[string]string) string {
	if condID, isBranch := branchOf[node.ID]; isBranch {
		condResult, ran := state.result(condID)
		if !ran || condResult.Status != models.ResultSuccess {
			return fmt.Sprintf("condition %q did not complete", condID)
		}
		if next, _ := condResult.Data["next_node"].(string); next != node.ID {
			return "Condition not met"
		}
	}

	for _, dep := range node.DependsOn {
		if reason, wasSkipped := state.skipReasonFor(dep); wasSkipped {
			return fmt.Sprintf("upstream node %q skipped: %s", dep, reason)
		}
		depResult, ran := state.result(dep)
		if !ran {
			return fmt.Sprintf("upstream node %q did not run", dep)
		}
		switch depResult.Status {
		case models.ResultError:
			return fmt.Sprintf("upstream node %q failed", dep)
		case models.ResultSkipped:
			return fmt.Sprintf("upstream node %q was skipped", dep)
		}
	}
	return ""
}

func (r *Runner) recordSkip(state *runState, node *models.Node, reason string) {
	state.setSkip(node.ID, reason)
	result := models.NewSkippedResult(reason)
	result.Stamp(time.Now().UTC())
	state.setResult(node.ID, result)
	r.persistNode(state.execution.ID, node.ID, node.Type, result)
	r.publishNodeFrame(state.execution.ID, node.ID, result)

	// A skipped controller never dispatches its members, so they get
	// explicit skipped rows of their own.
	for _, member := range controllerMembers(state.workflow, node) {
		if _, alreadySkipped := state.skipReasonFor(member.ID); alreadySkipped {
			continue
		}
		r.recordSkip(state, member, fmt.Sprintf("controller %q skipped: %s", node.ID, reason))
	}
}

// controllerMembers resolves the body nodes a loop or parallel controller
// claims. Non-controllers have none.
func controllerMembers(wf *models.Workflow, node *models.Node) []*models.Node {
	var ids []string
	switch node.Type {
	case "loop":
		ids = node.ConfigStringList("do")
	case "parallel":
		ids = node.ConfigStringList("nodes")
	default:
		return nil
	}

	byID := make(map[string]*models.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		byID[n.ID] = n
	}
	members := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		if member, ok := byID[id]; ok {
			members = append(members, member)
		}
	}
	return members
}
