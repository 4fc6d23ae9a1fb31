// Package workflow loads, validates and stores workflow documents.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flowpilot/flowpilot/common/models"
)

// Parse decodes and validates a workflow document from YAML bytes.
func Parse(data []byte) (*models.Workflow, error) {
	var wf models.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	applyDefaults(&wf)
	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ParseFile loads a workflow document from disk.
func ParseFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	wf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Serialize encodes a workflow document back to YAML. Parse(Serialize(w))
// yields an equal document for any validated workflow.
func Serialize(wf *models.Workflow) ([]byte, error) {
	data, err := yaml.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workflow: %w", err)
	}
	return data, nil
}

func applyDefaults(wf *models.Workflow) {
	if wf.Version == 0 {
		wf.Version = 1
	}
	if len(wf.Triggers) == 0 {
		wf.Triggers = []models.Trigger{{Type: models.TriggerManual}}
	}
	for i := range wf.Triggers {
		t := &wf.Triggers[i]
		if t.Type == models.TriggerFileWatch && len(t.Events) == 0 {
			t.Events = []string{"created", "modified"}
		}
	}
}
