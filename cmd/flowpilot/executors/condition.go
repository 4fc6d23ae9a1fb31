package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/common/expr"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

// ConditionExecutor evaluates a boolean expression and selects a branch.
type ConditionExecutor struct {
	eval *expr.Evaluator
}

// NewConditionExecutor creates a condition executor
func NewConditionExecutor(eval *expr.Evaluator) *ConditionExecutor {
	return &ConditionExecutor{eval: eval}
}

func (e *ConditionExecutor) Type() string                  { return "condition" }
func (e *ConditionExecutor) DefaultTimeout() time.Duration { return DefaultControlFlowTimeout }

// Execute evaluates config.if against the execution context. The chosen
// branch id is exposed as data.next_node; the runner uses it to skip the
// branch not taken.
func (e *ConditionExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	expression := node.ConfigString("if")
	if expression == "" {
		return errorf(node, "condition requires an if expression")
	}

	value, err := e.eval.EvaluateBool(expression, rc.Vars)
	if err != nil {
		result := errorf(node, "cannot evaluate condition: %v", err)
		result.SetData("category", string(retry.CategoryPermanent))
		return result.Stamp(started)
	}

	next := ""
	if value {
		next = node.ConfigString("then")
	} else {
		next = node.ConfigString("else")
	}

	result := models.NewSuccessResult(fmt.Sprintf("%t", value))
	result.SetData("result", value)
	result.SetData("next_node", next)
	return result.Stamp(started)
}
