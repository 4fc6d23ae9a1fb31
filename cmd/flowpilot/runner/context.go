package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/flowpilot/flowpilot/common/models"
)

// MergeInputs resolves the effective input mapping for a run: caller values
// win over declared defaults; a required input with neither fails, as does a
// caller value whose shape does not match the declared type.
func MergeInputs(wf *models.Workflow, caller map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(wf.Inputs))

	for name, def := range wf.Inputs {
		if value, ok := caller[name]; ok {
			if err := checkInputType(name, def.Type, value); err != nil {
				return nil, err
			}
			merged[name] = value
			continue
		}
		if def.Default != nil {
			merged[name] = def.Default
			continue
		}
		if def.Required {
			return nil, fmt.Errorf("required input %q not provided", name)
		}
	}

	// undeclared caller inputs pass through for ad-hoc runs
	for name, value := range caller {
		if _, declared := wf.Inputs[name]; !declared {
			merged[name] = value
		}
	}
	return merged, nil
}

// checkInputType validates a caller-supplied value against the declared
// input type. Untyped declarations accept anything.
func checkInputType(name, declared string, value any) error {
	if declared == "" || value == nil {
		return nil
	}
	ok := true
	switch declared {
	case "string":
		_, ok = value.(string)
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64, json.Number:
		default:
			ok = false
		}
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]any)
	case "object":
		_, ok = value.(map[string]any)
	}
	if !ok {
		return fmt.Errorf("input %q expects %s, got %T", name, declared, value)
	}
	return nil
}

// runState is the mutable state of one execution. Parallel branches read
// and write it concurrently, so access goes through the guarded methods.
type runState struct {
	execution *models.Execution
	workflow  *models.Workflow
	inputs    map[string]any
	env       map[string]string

	mu       sync.RWMutex
	results  map[string]*models.NodeResult
	skipped  map[string]string
	loopVars map[string]any
}

func newRunState(execution *models.Execution, wf *models.Workflow, inputs map[string]any) *runState {
	return &runState{
		execution: execution,
		workflow:  wf,
		inputs:    inputs,
		env:       environMap(),
		results:   make(map[string]*models.NodeResult),
		skipped:   make(map[string]string),
		loopVars:  make(map[string]any),
	}
}

func (s *runState) setResult(nodeID string, result *models.NodeResult) {
	s.mu.Lock()
	s.results[nodeID] = result
	s.mu.Unlock()
}

func (s *runState) result(nodeID string) (*models.NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[nodeID]
	return result, ok
}

func (s *runState) setSkip(nodeID, reason string) {
	s.mu.Lock()
	s.skipped[nodeID] = reason
	s.mu.Unlock()
}

func (s *runState) skipReasonFor(nodeID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reason, ok := s.skipped[nodeID]
	return reason, ok
}

// pushLoopVars overlays loop variables, returning a restore function that
// reinstates the previous values. Nested loops stack naturally.
func (s *runState) pushLoopVars(vars map[string]any) func() {
	s.mu.Lock()
	saved := make(map[string]any, len(vars))
	existed := make(map[string]bool, len(vars))
	for name, value := range vars {
		if prev, ok := s.loopVars[name]; ok {
			saved[name] = prev
			existed[name] = true
		}
		s.loopVars[name] = value
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		for name := range vars {
			if existed[name] {
				s.loopVars[name] = saved[name]
			} else {
				delete(s.loopVars, name)
			}
		}
		s.mu.Unlock()
	}
}

// vars builds the template and expression context for the current state.
// Node ids are exposed with dashes rewritten to underscores so they are
// addressable as identifiers.
func (s *runState) vars() map[string]any {
	s.mu.RLock()
	nodes := make(map[string]any, len(s.results))
	for id, result := range s.results {
		nodes[contextKey(id)] = result.ContextValue()
	}
	ctx := map[string]any{
		"inputs":        s.inputs,
		"nodes":         nodes,
		"env":           s.env,
		"execution_id":  s.execution.ID,
		"workflow_name": s.execution.WorkflowName,
		"trigger_type":  s.execution.TriggerType,
	}
	for name, value := range s.loopVars {
		ctx[name] = value
	}
	s.mu.RUnlock()
	return ctx
}

func contextKey(nodeID string) string {
	return strings.ReplaceAll(nodeID, "-", "_")
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
