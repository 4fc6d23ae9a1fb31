package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var filterCallPattern = regexp.MustCompile(`^([a-z_]+)(?:\((.*)\))?$`)

// parseFilterCall splits "truncate(80, '…')" into name and literal args.
func parseFilterCall(s string) (string, []any, error) {
	m := filterCallPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", nil, fmt.Errorf("malformed filter %q", s)
	}
	name := m[1]
	if m[2] == "" {
		return name, nil, nil
	}

	var args []any
	for _, raw := range splitArgs(m[2]) {
		raw = strings.TrimSpace(raw)
		switch {
		case len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0]:
			args = append(args, raw[1:len(raw)-1])
		case raw == "true" || raw == "false":
			args = append(args, raw == "true")
		default:
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				args = append(args, n)
			} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
				args = append(args, f)
			} else {
				return "", nil, fmt.Errorf("filter %s: unsupported argument %q", name, raw)
			}
		}
	}
	return name, args, nil
}

func splitArgs(s string) []string {
	var parts []string
	var current strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ',':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// applyFilter applies one named filter to a value.
func applyFilter(name string, args []any, value any) (any, error) {
	switch name {
	case "truncate":
		n := int64(80)
		suffix := "…"
		if len(args) > 0 {
			if v, ok := args[0].(int64); ok {
				n = v
			}
		}
		if len(args) > 1 {
			if v, ok := args[1].(string); ok {
				suffix = v
			}
		}
		s := Stringify(value)
		runes := []rune(s)
		if int64(len(runes)) <= n {
			return s, nil
		}
		return string(runes[:n]) + suffix, nil

	case "json":
		indent := 0
		if len(args) > 0 {
			if v, ok := args[0].(int64); ok {
				indent = int(v)
			}
		}
		var data []byte
		var err error
		if indent > 0 {
			data, err = json.MarshalIndent(value, "", strings.Repeat(" ", indent))
		} else {
			data, err = json.Marshal(value)
		}
		if err != nil {
			return nil, fmt.Errorf("json filter: %w", err)
		}
		return string(data), nil

	case "lines":
		return splitLines(Stringify(value)), nil

	case "first_line":
		lines := splitLines(Stringify(value))
		if len(lines) == 0 {
			return "", nil
		}
		return lines[0], nil

	case "last_line":
		lines := splitLines(Stringify(value))
		if len(lines) == 0 {
			return "", nil
		}
		return lines[len(lines)-1], nil

	case "strip":
		return strings.TrimSpace(Stringify(value)), nil

	case "upper":
		return strings.ToUpper(Stringify(value)), nil

	case "lower":
		return strings.ToLower(Stringify(value)), nil

	case "split":
		s := Stringify(value)
		if len(args) > 0 {
			if sep, ok := args[0].(string); ok {
				return toAnySlice(strings.Split(s, sep)), nil
			}
		}
		return toAnySlice(strings.Fields(s)), nil

	default:
		return nil, fmt.Errorf("unknown filter %q", name)
	}
}

func splitLines(s string) []any {
	if s == "" {
		return nil
	}
	return toAnySlice(strings.Split(strings.TrimRight(s, "\n"), "\n"))
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
