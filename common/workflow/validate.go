package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/flowpilot/flowpilot/common/models"
)

var (
	namePattern   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	nodeIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

var validInputTypes = map[string]bool{
	"string": true, "number": true, "boolean": true, "array": true, "object": true,
}

var validHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// ValidationError collects all problems found in one document.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", strings.Join(e.Errors, "; "))
}

// Validate checks a parsed workflow document: the name grammar, node id
// uniqueness, every reference made by depends_on and control-flow nodes, the
// trigger declarations, and acyclicity of the depends_on graph.
func Validate(wf *models.Workflow) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if wf.Name == "" {
		add("name is required")
	} else if !namePattern.MatchString(wf.Name) {
		add("name %q must be a lowercase dash-identifier", wf.Name)
	}

	if len(wf.Nodes) == 0 {
		add("at least one node is required")
	}

	switch wf.Settings.OnError {
	case "", models.OnErrorStop, models.OnErrorContinue, models.OnErrorNotify:
	default:
		add("settings.on_error %q must be one of stop|continue|notify", wf.Settings.OnError)
	}

	for name, input := range wf.Inputs {
		if !validInputTypes[input.Type] {
			add("input %q: unknown type %q", name, input.Type)
		}
	}

	ids := make(map[string]bool, len(wf.Nodes))
	for i, node := range wf.Nodes {
		if node.ID == "" {
			add("node %d: id is required", i)
			continue
		}
		if !nodeIDPattern.MatchString(node.ID) {
			add("node %q: id must match [a-z][a-z0-9-]*", node.ID)
		}
		if ids[node.ID] {
			add("node %q: duplicate id", node.ID)
		}
		ids[node.ID] = true
		if node.Type == "" {
			add("node %q: type is required", node.ID)
		}
	}

	// Reference checks: depends_on plus control-flow targets. Control-flow
	// edges do not add dependencies but must still name existing nodes.
	for _, node := range wf.Nodes {
		for _, dep := range node.DependsOn {
			if !ids[dep] {
				add("node %q: depends_on references unknown node %q", node.ID, dep)
			}
		}
		switch node.Type {
		case "condition":
			if then := node.ConfigString("then"); then != "" && !ids[then] {
				add("node %q: then references unknown node %q", node.ID, then)
			}
			if els := node.ConfigString("else"); els != "" && !ids[els] {
				add("node %q: else references unknown node %q", node.ID, els)
			}
			if node.ConfigString("if") == "" {
				add("node %q: condition requires an if expression", node.ID)
			}
		case "loop":
			if _, ok := node.Config["for_each"]; !ok {
				add("node %q: loop requires a for_each expression", node.ID)
			}
			for _, do := range node.ConfigStringList("do") {
				if !ids[do] {
					add("node %q: do references unknown node %q", node.ID, do)
				}
			}
		case "parallel":
			members := node.ConfigStringList("nodes")
			if len(members) == 0 {
				add("node %q: parallel requires a nodes list", node.ID)
			}
			for _, member := range members {
				if !ids[member] {
					add("node %q: nodes references unknown node %q", node.ID, member)
				}
			}
		case "http":
			if method := node.ConfigString("method"); method != "" && !validHTTPMethods[strings.ToUpper(method)] {
				add("node %q: unsupported http method %q", node.ID, method)
			}
		case "delay":
			_, hasDuration := node.Config["duration"]
			_, hasUntil := node.Config["until"]
			if hasDuration == hasUntil {
				add("node %q: delay requires exactly one of duration or until", node.ID)
			}
		}
	}

	for i, trigger := range wf.Triggers {
		switch trigger.Type {
		case models.TriggerManual:
		case models.TriggerCron:
			if trigger.Schedule == "" {
				add("trigger %d: cron requires a schedule", i)
			} else if fields := len(strings.Fields(trigger.Schedule)); fields < 5 || fields > 6 {
				add("trigger %d: cron schedule must have 5 or 6 fields", i)
			}
		case models.TriggerInterval:
			if trigger.Every == "" {
				add("trigger %d: interval requires an every duration", i)
			}
		case models.TriggerFileWatch:
			if trigger.Path == "" {
				add("trigger %d: file-watch requires a path", i)
			}
			for _, ev := range trigger.Events {
				switch ev {
				case "created", "modified", "deleted":
				default:
					add("trigger %d: unknown file-watch event %q", i, ev)
				}
			}
		case models.TriggerWebhook:
			if trigger.Path == "" {
				add("trigger %d: webhook requires a path", i)
			}
		default:
			add("trigger %d: unknown trigger type %q", i, trigger.Type)
		}
	}

	// Cycle check over depends_on edges only.
	if len(errs) == 0 {
		if _, err := TopoSort(wf.Nodes); err != nil {
			add("%v", err)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Warnings reports non-fatal issues in a document that Validate accepts:
// missing triggers and declared inputs no node ever references.
func Warnings(wf *models.Workflow) []string {
	warnings := []string{}
	automatic := false
	for _, t := range wf.Triggers {
		if t.Type != models.TriggerManual {
			automatic = true
		}
	}
	if !automatic {
		warnings = append(warnings, "no automatic triggers declared; workflow only runs on demand")
	}
	for name := range wf.Inputs {
		if !inputReferenced(wf, name) {
			warnings = append(warnings, fmt.Sprintf("input %q is never referenced", name))
		}
	}
	sort.Strings(warnings)
	return warnings
}

func inputReferenced(wf *models.Workflow, name string) bool {
	ref := "inputs." + name
	for _, node := range wf.Nodes {
		if configMentions(node.Config, ref) {
			return true
		}
	}
	return false
}

func configMentions(value any, ref string) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, ref)
	case map[string]any:
		for _, item := range v {
			if configMentions(item, ref) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if configMentions(item, ref) {
				return true
			}
		}
	}
	return false
}
