package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
	"github.com/flowpilot/flowpilot/common/workflow"
)

// schedulingPlan computes the execution order and control-flow roles:
// nodes claimed by a loop or parallel controller run inside it rather than
// at the top level, and condition branch targets gain an implicit ordering
// edge after their condition.
func schedulingPlan(wf *models.Workflow) ([]*models.Node, map[string]struct{}, map[string]string, error) {
	claimed := make(map[string]struct{})
	branchOf := make(map[string]string)

	for _, node := range wf.Nodes {
		switch node.Type {
		case "loop":
			for _, id := range node.ConfigStringList("do") {
				claimed[id] = struct{}{}
			}
		case "parallel":
			for _, id := range node.ConfigStringList("nodes") {
				claimed[id] = struct{}{}
			}
		case "condition":
			if then := node.ConfigString("then"); then != "" {
				branchOf[then] = node.ID
			}
			if els := node.ConfigString("else"); els != "" {
				branchOf[els] = node.ID
			}
		}
	}

	// Ordering edges for branch targets keep them after their condition.
	augmented := make([]*models.Node, len(wf.Nodes))
	for i, node := range wf.Nodes {
		clone := *node
		if condID, ok := branchOf[node.ID]; ok {
			clone.DependsOn = append(append(models.StringList{}, node.DependsOn...), condID)
		}
		augmented[i] = &clone
	}
	order, err := workflow.TopoSort(augmented)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot schedule workflow: %w", err)
	}

	byID := make(map[string]*models.Node, len(wf.Nodes))
	for _, node := range wf.Nodes {
		byID[node.ID] = node
	}
	ordered := make([]*models.Node, len(order))
	for i, node := range order {
		ordered[i] = byID[node.ID]
	}
	return ordered, claimed, branchOf, nil
}

// runLoop expands a loop controller: for each item the loop variables are
// overlaid on the context and the do body runs in order. A member failure
// or a true break_if stops the iteration.
func (r *Runner) runLoop(ctx context.Context, state *runState, node *models.Node, plan *models.NodeResult, log *logger.Logger) *models.NodeResult {
	items, _ := plan.Data["items"].([]any)
	asVar, _ := plan.Data["as_var"].(string)
	indexVar, _ := plan.Data["index_var"].(string)
	doIDs, _ := plan.Data["do"].([]string)
	breakIf, _ := plan.Data["break_if"].(string)

	body := make([]*models.Node, 0, len(doIDs))
	for _, id := range doIDs {
		member := findNode(state.workflow, id)
		if member == nil {
			return models.NewErrorResult("loop %q: unknown do node %q", node.ID, id).Stamp(plan.StartedAt)
		}
		body = append(body, member)
	}

	completed := 0
	broken := false
	var iterations []any

	for index, item := range items {
		if ctx.Err() != nil {
			break
		}

		restore := state.pushLoopVars(map[string]any{asVar: item, indexVar: index})

		// break_if sees the current item before the body runs
		if breakIf != "" {
			stop, err := r.eval.EvaluateBool(breakIf, state.vars())
			if err != nil {
				restore()
				result := models.NewErrorResult("loop %q: cannot evaluate break_if: %v", node.ID, err)
				result.SetData("category", string(retry.CategoryPermanent))
				return result.Stamp(plan.StartedAt)
			}
			if stop {
				restore()
				broken = true
				break
			}
		}

		iterErr := r.runLoopBody(ctx, state, body, log)
		restore()

		status := "success"
		if iterErr != nil {
			status = "error"
		}
		iterations = append(iterations, map[string]any{"index": index, "status": status})

		if iterErr != nil {
			result := models.NewErrorResult("loop %q: iteration %d: %v", node.ID, index, iterErr)
			result.SetData("completed", completed)
			result.SetData("iterations", iterations)
			return result.Stamp(plan.StartedAt)
		}
		completed++
	}

	result := models.NewSuccessResult(fmt.Sprintf("completed %d of %d iterations", completed, len(items)))
	result.SetData("count", len(items))
	result.SetData("completed", completed)
	result.SetData("broken", broken)
	result.SetData("iterations", iterations)
	return result.Stamp(plan.StartedAt)
}

func (r *Runner) runLoopBody(ctx context.Context, state *runState, body []*models.Node, log *logger.Logger) error {
	for _, member := range body {
		result := r.runNode(ctx, state, member, log)
		state.setResult(member.ID, result)
		if result.Status == models.ResultError {
			return fmt.Errorf("node %q failed: %s", member.ID, result.ErrorMessage)
		}
	}
	return nil
}

// runParallel expands a parallel controller: member nodes run concurrently
// under the optional concurrency cap. With fail_fast the first failure
// cancels the remaining members.
func (r *Runner) runParallel(ctx context.Context, state *runState, node *models.Node, plan *models.NodeResult, log *logger.Logger) *models.NodeResult {
	memberIDs, _ := plan.Data["nodes"].([]string)
	maxConcurrency, _ := plan.Data["max_concurrency"].(int)
	failFast, _ := plan.Data["fail_fast"].(bool)
	timeoutSecs, _ := plan.Data["timeout_seconds"].(float64)

	members := make([]*models.Node, 0, len(memberIDs))
	for _, id := range memberIDs {
		member := findNode(state.workflow, id)
		if member == nil {
			return models.NewErrorResult("parallel %q: unknown node %q", node.ID, id).Stamp(plan.StartedAt)
		}
		members = append(members, member)
	}

	var groupCtx context.Context
	var cancel context.CancelFunc
	if timeoutSecs > 0 {
		groupCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs*float64(time.Second)))
	} else {
		groupCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}

	results := make([]*models.NodeResult, len(members))
	var wg sync.WaitGroup
	for i, member := range members {
		wg.Add(1)
		go func(i int, member *models.Node) {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-groupCtx.Done():
					results[i] = models.NewSkippedResult("parallel group cancelled")
					return
				}
			}
			result := r.runNode(groupCtx, state, member, log)
			results[i] = result
			if failFast && result.Status == models.ResultError {
				cancel()
			}
		}(i, member)
	}
	wg.Wait()

	if errors.Is(groupCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		for i, member := range members {
			if results[i] != nil {
				state.setResult(member.ID, results[i])
			}
		}
		result := models.NewErrorResult("parallel %q: group timed out after %gs", node.ID, timeoutSecs)
		result.SetData("category", string(retry.CategoryTransient))
		return result.Stamp(plan.StartedAt)
	}

	failed := 0
	branches := make([]any, len(members))
	for i, member := range members {
		state.setResult(member.ID, results[i])
		branch := map[string]any{"node_id": member.ID, "status": string(results[i].Status)}
		if results[i].Status == models.ResultError {
			failed++
			branch["error"] = results[i].ErrorMessage
		}
		branches[i] = branch
	}

	if failed > 0 {
		result := models.NewErrorResult("parallel %q: %d of %d branches failed", node.ID, failed, len(members))
		result.SetData("branches", branches)
		return result.Stamp(plan.StartedAt)
	}
	result := models.NewSuccessResult(fmt.Sprintf("%d branches completed", len(members)))
	result.SetData("branches", branches)
	return result.Stamp(plan.StartedAt)
}

func findNode(wf *models.Workflow, id string) *models.Node {
	for _, node := range wf.Nodes {
		if node.ID == id {
			return node
		}
	}
	return nil
}
