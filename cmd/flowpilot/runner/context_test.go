package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
)

func TestMergeInputs(t *testing.T) {
	wf := &models.Workflow{
		Name: "deploy",
		Inputs: map[string]models.InputDef{
			"env":     {Type: "string", Default: "staging"},
			"version": {Type: "string", Required: true},
			"dry_run": {Type: "boolean"},
		},
	}

	merged, err := MergeInputs(wf, map[string]any{
		"version": "1.2.3",
		"extra":   "ad-hoc",
	})
	if err != nil {
		t.Fatalf("MergeInputs failed: %v", err)
	}
	if merged["env"] != "staging" {
		t.Errorf("default not applied: %v", merged["env"])
	}
	if merged["version"] != "1.2.3" {
		t.Errorf("caller value lost: %v", merged["version"])
	}
	if merged["extra"] != "ad-hoc" {
		t.Errorf("undeclared input dropped: %v", merged["extra"])
	}
	if _, present := merged["dry_run"]; present {
		t.Error("optional input without default should be absent")
	}
}

func TestMergeInputs_CallerOverridesDefault(t *testing.T) {
	wf := &models.Workflow{
		Inputs: map[string]models.InputDef{
			"env": {Type: "string", Default: "staging"},
		},
	}
	merged, err := MergeInputs(wf, map[string]any{"env": "prod"})
	if err != nil {
		t.Fatalf("MergeInputs failed: %v", err)
	}
	if merged["env"] != "prod" {
		t.Errorf("env = %v", merged["env"])
	}
}

func TestMergeInputs_RequiredMissing(t *testing.T) {
	wf := &models.Workflow{
		Inputs: map[string]models.InputDef{
			"version": {Type: "string", Required: true},
		},
	}
	_, err := MergeInputs(wf, nil)
	if err == nil || !strings.Contains(err.Error(), `required input "version" not provided`) {
		t.Errorf("err = %v", err)
	}
}

func TestMergeInputs_TypeMismatch(t *testing.T) {
	wf := &models.Workflow{
		Inputs: map[string]models.InputDef{
			"count":   {Type: "number", Required: true},
			"targets": {Type: "array"},
		},
	}

	_, err := MergeInputs(wf, map[string]any{"count": "not-a-number"})
	if err == nil || !strings.Contains(err.Error(), `input "count" expects number`) {
		t.Errorf("err = %v", err)
	}

	_, err = MergeInputs(wf, map[string]any{"count": 3, "targets": "web"})
	if err == nil || !strings.Contains(err.Error(), `input "targets" expects array`) {
		t.Errorf("err = %v", err)
	}

	merged, err := MergeInputs(wf, map[string]any{
		"count":   3.0,
		"targets": []any{"web", "db"},
	})
	if err != nil {
		t.Fatalf("MergeInputs failed: %v", err)
	}
	if merged["count"] != 3.0 {
		t.Errorf("count = %v", merged["count"])
	}
}

func testState() *runState {
	execution := &models.Execution{
		ID:           "exec-1",
		WorkflowName: "deploy",
		TriggerType:  "manual",
		StartedAt:    time.Now().UTC(),
	}
	wf := &models.Workflow{Name: "deploy"}
	return newRunState(execution, wf, map[string]any{"env": "prod"})
}

func TestRunState_VarsExposeNodeResults(t *testing.T) {
	state := testState()

	result := models.NewSuccessResult("built")
	result.SetData("artifact", "app.tar.gz")
	state.setResult("build-step", result)

	vars := state.vars()
	nodes := vars["nodes"].(map[string]any)
	entry, ok := nodes["build_step"].(map[string]any)
	if !ok {
		t.Fatalf("dash id not rewritten: %v", nodes)
	}
	if entry["output"] != "built" || entry["status"] != "success" {
		t.Errorf("entry = %v", entry)
	}
	if data := entry["data"].(map[string]any); data["artifact"] != "app.tar.gz" {
		t.Errorf("data = %v", data)
	}

	inputs := vars["inputs"].(map[string]any)
	if inputs["env"] != "prod" {
		t.Errorf("inputs = %v", inputs)
	}
	if vars["execution_id"] != "exec-1" || vars["trigger_type"] != "manual" {
		t.Errorf("execution vars = %v %v", vars["execution_id"], vars["trigger_type"])
	}
}

func TestRunState_SkipTracking(t *testing.T) {
	state := testState()
	state.setSkip("notify", "upstream failed")

	reason, skipped := state.skipReasonFor("notify")
	if !skipped || reason != "upstream failed" {
		t.Errorf("skip = %q %v", reason, skipped)
	}
	if _, skipped := state.skipReasonFor("other"); skipped {
		t.Error("unexpected skip for untouched node")
	}
}

func TestRunState_LoopVarsNest(t *testing.T) {
	state := testState()

	restoreOuter := state.pushLoopVars(map[string]any{"item": "a", "index": 0})
	if state.vars()["item"] != "a" {
		t.Fatalf("outer item = %v", state.vars()["item"])
	}

	restoreInner := state.pushLoopVars(map[string]any{"item": "x"})
	if state.vars()["item"] != "x" {
		t.Errorf("inner item = %v", state.vars()["item"])
	}
	if state.vars()["index"] != 0 {
		t.Errorf("outer index lost: %v", state.vars()["index"])
	}

	restoreInner()
	if state.vars()["item"] != "a" {
		t.Errorf("item after inner restore = %v", state.vars()["item"])
	}

	restoreOuter()
	if _, present := state.vars()["item"]; present {
		t.Error("loop vars leaked after restore")
	}
}
