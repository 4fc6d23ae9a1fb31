package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Trigger type tags as they appear in workflow documents.
const (
	TriggerManual    = "manual"
	TriggerCron      = "cron"
	TriggerInterval  = "interval"
	TriggerFileWatch = "file-watch"
	TriggerWebhook   = "webhook"
)

// Trigger tags recorded on executions. Cron and interval firings are both
// recorded as "scheduled".
const (
	TriggerTagManual    = "manual"
	TriggerTagScheduled = "scheduled"
	TriggerTagFileWatch = "file-watch"
	TriggerTagWebhook   = "webhook"
)

// OnError policies for workflow settings.
const (
	OnErrorStop     = "stop"
	OnErrorContinue = "continue"
	OnErrorNotify   = "notify"
)

// Workflow is a declarative workflow document. Immutable once parsed.
type Workflow struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Version     int                 `yaml:"version,omitempty" json:"version,omitempty"`
	Triggers    []Trigger           `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Inputs      map[string]InputDef `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Nodes       []*Node             `yaml:"nodes" json:"nodes"`
	Settings    Settings            `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// Trigger is a tagged union of trigger declarations, discriminated by Type.
type Trigger struct {
	Type string `yaml:"type" json:"type"`

	// cron
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	// interval
	Every string `yaml:"every,omitempty" json:"every,omitempty"`

	// file-watch
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	Events  []string `yaml:"events,omitempty" json:"events,omitempty"`
	Pattern string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// webhook (Path is shared with file-watch)
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// InputDef declares a typed workflow input.
type InputDef struct {
	Type        string `yaml:"type" json:"type"`
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Settings holds workflow-level execution defaults.
type Settings struct {
	// Timeout is the whole-execution limit in seconds. Zero means none.
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Retry is the default max attempts per node. Zero means one attempt.
	Retry int `yaml:"retry,omitempty" json:"retry,omitempty"`
	// RetryDelay is the default initial backoff in seconds.
	RetryDelay float64 `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	// OnError is one of stop|continue|notify. Default stop.
	OnError string `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// EffectiveOnError returns the on_error policy, defaulting to stop.
func (s Settings) EffectiveOnError() string {
	if s.OnError == "" {
		return OnErrorStop
	}
	return s.OnError
}

// RetryConfig controls per-node retry behavior. A nil RetryConfig falls back
// to the workflow settings.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	InitialDelay     float64 `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	MaxDelay         float64 `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
	ExponentialBase  float64 `yaml:"exponential_base,omitempty" json:"exponential_base,omitempty"`
	Jitter           *bool   `yaml:"jitter,omitempty" json:"jitter,omitempty"`
	RetryOnTransient *bool   `yaml:"retry_on_transient,omitempty" json:"retry_on_transient,omitempty"`
	RetryOnResource  *bool   `yaml:"retry_on_resource,omitempty" json:"retry_on_resource,omitempty"`
}

// Node is a single unit of work, a tagged union discriminated by Type.
// Type-specific attributes live in Config; unknown types pass parse and fail
// at dispatch, keeping documents forward compatible.
type Node struct {
	ID        string         `yaml:"id" json:"id"`
	Type      string         `yaml:"type" json:"type"`
	DependsOn StringList     `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Retry     *RetryConfig   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Config    map[string]any `yaml:",inline" json:"config,omitempty"`
}

// StringList accepts either a YAML scalar or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = StringList(list)
		return nil
	default:
		return fmt.Errorf("expected string or list of strings")
	}
}

// ConfigString returns a string attribute from the node config.
func (n *Node) ConfigString(key string) string {
	if v, ok := n.Config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ConfigStringList returns a string-or-list attribute as a list.
func (n *Node) ConfigStringList(key string) []string {
	v, ok := n.Config[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ConfigFloat returns a numeric attribute, with ok reporting presence.
func (n *Node) ConfigFloat(key string) (float64, bool) {
	v, ok := n.Config[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	return 0, false
}

// ConfigBool returns a boolean attribute with a default.
func (n *Node) ConfigBool(key string, def bool) bool {
	if v, ok := n.Config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// ConfigMap returns a mapping attribute.
func (n *Node) ConfigMap(key string) map[string]any {
	if v, ok := n.Config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}
