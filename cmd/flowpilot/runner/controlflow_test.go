package runner

import (
	"strings"
	"testing"

	"github.com/flowpilot/flowpilot/common/models"
)

func planWorkflow(nodes ...*models.Node) *models.Workflow {
	return &models.Workflow{Name: "plan-test", Nodes: nodes}
}

func TestSchedulingPlan_ClaimsLoopAndParallelMembers(t *testing.T) {
	wf := planWorkflow(
		&models.Node{ID: "each", Type: "loop", Config: map[string]any{
			"for_each": []any{"a"},
			"do":       []any{"ping", "record"},
		}},
		&models.Node{ID: "ping", Type: "shell", Config: map[string]any{"command": "true"}},
		&models.Node{ID: "record", Type: "shell", Config: map[string]any{"command": "true"}},
		&models.Node{ID: "fan", Type: "parallel", Config: map[string]any{
			"nodes": []any{"left", "right"},
		}},
		&models.Node{ID: "left", Type: "shell", Config: map[string]any{"command": "true"}},
		&models.Node{ID: "right", Type: "shell", Config: map[string]any{"command": "true"}},
	)

	_, claimed, _, err := schedulingPlan(wf)
	if err != nil {
		t.Fatalf("schedulingPlan failed: %v", err)
	}
	for _, id := range []string{"ping", "record", "left", "right"} {
		if _, ok := claimed[id]; !ok {
			t.Errorf("%s not claimed", id)
		}
	}
	if _, ok := claimed["each"]; ok {
		t.Error("controller should not claim itself")
	}
}

func TestSchedulingPlan_BranchOrdering(t *testing.T) {
	wf := planWorkflow(
		&models.Node{ID: "big", Type: "shell", Config: map[string]any{"command": "true"}},
		&models.Node{ID: "gate", Type: "condition", Config: map[string]any{
			"if":   "count > 2",
			"then": "big",
			"else": "small",
		}},
		&models.Node{ID: "small", Type: "shell", Config: map[string]any{"command": "true"}},
	)

	order, _, branchOf, err := schedulingPlan(wf)
	if err != nil {
		t.Fatalf("schedulingPlan failed: %v", err)
	}

	if branchOf["big"] != "gate" || branchOf["small"] != "gate" {
		t.Errorf("branchOf = %v", branchOf)
	}

	pos := map[string]int{}
	for i, node := range order {
		pos[node.ID] = i
	}
	if pos["big"] < pos["gate"] || pos["small"] < pos["gate"] {
		t.Errorf("branch targets scheduled before condition: %v", pos)
	}
}

func TestSchedulingPlan_KeepsOriginalNodes(t *testing.T) {
	wf := planWorkflow(
		&models.Node{ID: "gate", Type: "condition", Config: map[string]any{
			"if":   "true",
			"then": "target",
		}},
		&models.Node{ID: "target", Type: "shell", Config: map[string]any{"command": "true"}},
	)

	order, _, _, err := schedulingPlan(wf)
	if err != nil {
		t.Fatalf("schedulingPlan failed: %v", err)
	}
	for _, node := range order {
		if node.ID == "target" && len(node.DependsOn) != 0 {
			t.Errorf("implicit ordering edge leaked into workflow node: %v", node.DependsOn)
		}
	}
}

func TestSchedulingPlan_CycleThroughBranchEdge(t *testing.T) {
	// gate depends on big, and big is gate's then target
	wf := planWorkflow(
		&models.Node{ID: "big", Type: "shell", Config: map[string]any{"command": "true"}},
		&models.Node{ID: "gate", Type: "condition", DependsOn: models.StringList{"big"}, Config: map[string]any{
			"if":   "true",
			"then": "big",
		}},
	)

	_, _, _, err := schedulingPlan(wf)
	if err == nil || !strings.Contains(err.Error(), "cannot schedule workflow") {
		t.Errorf("err = %v", err)
	}
}
