// Package template renders workflow node attributes against the run context.
// Two markers are recognized: {{ expr }} interpolates a value (with an
// optional filter pipeline) and {% ... %} opens control blocks (if/endif,
// for/endfor). Strings containing neither marker are returned verbatim.
// Expressions are evaluated by the sandboxed evaluator, so an undefined name
// surfaces as a rendering error before the node executes.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowpilot/flowpilot/common/expr"
)

// Engine renders template strings, maps and slices recursively
type Engine struct {
	eval *expr.Evaluator
}

// NewEngine creates a template engine on top of the expression evaluator
func NewEngine(evaluator *expr.Evaluator) *Engine {
	return &Engine{eval: evaluator}
}

var interpPattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// Render recursively renders a value. Strings are template-expanded, maps and
// slices are walked, other scalars pass through unchanged.
func (e *Engine) Render(value any, context map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.RenderValue(v, context)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			rendered, err := e.Render(item, context)
			if err != nil {
				return nil, fmt.Errorf("failed to render %q: %w", key, err)
			}
			resolved[key] = rendered
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			rendered, err := e.Render(item, context)
			if err != nil {
				return nil, err
			}
			resolved[i] = rendered
		}
		return resolved, nil
	default:
		return value, nil
	}
}

// RenderValue renders one string. A string that is exactly one {{ expr }}
// yields the raw expression value so structured data can flow between nodes;
// anything else renders to a string.
func (e *Engine) RenderValue(s string, context map[string]any) (any, error) {
	if !strings.Contains(s, "{{") && !strings.Contains(s, "{%") {
		return s, nil
	}

	if m := interpPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return e.evalPipeline(m[1], context)
	}

	return e.RenderString(s, context)
}

// RenderString renders a string template to a string
func (e *Engine) RenderString(s string, context map[string]any) (string, error) {
	if !strings.Contains(s, "{{") && !strings.Contains(s, "{%") {
		return s, nil
	}

	nodes, err := parseTemplate(s)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := e.renderNodes(nodes, context, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// evalPipeline evaluates "expr | filter | filter(args)"
func (e *Engine) evalPipeline(pipeline string, context map[string]any) (any, error) {
	parts := splitPipeline(pipeline)
	value, err := e.eval.Evaluate(parts[0], context)
	if err != nil {
		return nil, err
	}
	for _, part := range parts[1:] {
		name, args, err := parseFilterCall(part)
		if err != nil {
			return nil, err
		}
		value, err = applyFilter(name, args, value)
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

// splitPipeline splits on top-level single '|', leaving '||' untouched
func splitPipeline(s string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	var quote rune

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote && (i == 0 || runes[i-1] != '\\') {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == '(' || r == '[' || r == '{':
			depth++
			current.WriteRune(r)
		case r == ')' || r == ']' || r == '}':
			depth--
			current.WriteRune(r)
		case r == '|' && depth == 0:
			if i+1 < len(runes) && runes[i+1] == '|' {
				current.WriteString("||")
				i++
				continue
			}
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	parts = append(parts, strings.TrimSpace(current.String()))
	return parts
}

// Stringify converts a rendered value to its string form. Structured values
// marshal to JSON, matching how node outputs interpolate into commands.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
