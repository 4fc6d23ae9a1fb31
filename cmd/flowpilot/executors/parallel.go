package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
)

// ParallelExecutor validates a parallel node and prepares its fan-out plan.
// The runner schedules the member nodes concurrently.
type ParallelExecutor struct{}

// NewParallelExecutor creates a parallel executor
func NewParallelExecutor() *ParallelExecutor {
	return &ParallelExecutor{}
}

func (e *ParallelExecutor) Type() string                  { return "parallel" }
func (e *ParallelExecutor) DefaultTimeout() time.Duration { return DefaultControlFlowTimeout }

func (e *ParallelExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	members := node.ConfigStringList("nodes")
	if len(members) == 0 {
		return errorf(node, "parallel requires a nodes list")
	}

	maxConcurrency := 0
	if v, ok := node.ConfigFloat("max_concurrency"); ok && v > 0 {
		maxConcurrency = int(v)
	}

	result := models.NewSuccessResult(fmt.Sprintf("%d branches", len(members)))
	result.SetData("nodes", members)
	result.SetData("max_concurrency", maxConcurrency)
	result.SetData("fail_fast", node.ConfigBool("fail_fast", true))
	if secs, ok := node.ConfigFloat("timeout"); ok && secs > 0 {
		result.SetData("timeout_seconds", secs)
	}
	return result.Stamp(started)
}
