package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/common/expr"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

// LoopExecutor validates a loop node and prepares its iteration plan. The
// runner performs the actual per-item expansion of the do body.
type LoopExecutor struct {
	eval *expr.Evaluator
}

// NewLoopExecutor creates a loop executor
func NewLoopExecutor(eval *expr.Evaluator) *LoopExecutor {
	return &LoopExecutor{eval: eval}
}

func (e *LoopExecutor) Type() string                  { return "loop" }
func (e *LoopExecutor) DefaultTimeout() time.Duration { return DefaultControlFlowTimeout }

// Execute evaluates config.for_each to a sequence, truncates it to
// max_iterations when set, and returns the plan in data. An empty sequence
// is a success with zero iterations.
func (e *LoopExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	raw, ok := node.Config["for_each"]
	if !ok {
		return errorf(node, "loop requires a for_each expression")
	}

	var items []any
	switch v := raw.(type) {
	case string:
		evaluated, err := e.eval.EvaluateList(v, rc.Vars)
		if err != nil {
			result := errorf(node, "cannot evaluate for_each: %v", err)
			result.SetData("category", string(retry.CategoryPermanent))
			return result.Stamp(started)
		}
		items = evaluated
	case []any:
		items = v
	case nil:
	default:
		result := errorf(node, "for_each must be an expression or a sequence, got %T", raw)
		result.SetData("category", string(retry.CategoryPermanent))
		return result.Stamp(started)
	}

	if max, ok := node.ConfigFloat("max_iterations"); ok && max > 0 && len(items) > int(max) {
		items = items[:int(max)]
	}

	asVar := node.ConfigString("as_var")
	if asVar == "" {
		asVar = "item"
	}
	indexVar := node.ConfigString("index_var")
	if indexVar == "" {
		indexVar = "index"
	}

	result := models.NewSuccessResult(fmt.Sprintf("%d iterations", len(items)))
	result.SetData("items", items)
	result.SetData("count", len(items))
	result.SetData("as_var", asVar)
	result.SetData("index_var", indexVar)
	result.SetData("do", node.ConfigStringList("do"))
	if breakIf := node.ConfigString("break_if"); breakIf != "" {
		result.SetData("break_if", breakIf)
	}
	return result.Stamp(started)
}
