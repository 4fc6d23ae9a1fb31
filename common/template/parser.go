package template

import (
	"fmt"
	"strings"
)

// tnode is one parsed template node.
type tnode interface{}

type textNode string

type interpNode string // filter pipeline

type ifNode struct {
	cond     string
	body     []tnode
	elseBody []tnode
}

type forNode struct {
	varName string
	seqExpr string
	body    []tnode
}

// parseTemplate splits a template into text, {{ }} and {% %} nodes.
func parseTemplate(s string) ([]tnode, error) {
	tokens := lex(s)
	nodes, rest, err := parseUntil(tokens, nil)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("unexpected %q without matching opening block", rest[0].tag)
	}
	return nodes, nil
}

type token struct {
	text string // raw text, set when tag is empty
	tag  string // inner content of a {% %} tag
	expr string // inner content of a {{ }} marker
}

func lex(s string) []token {
	var tokens []token
	for len(s) > 0 {
		iExpr := strings.Index(s, "{{")
		iTag := strings.Index(s, "{%")
		next, isTag := iExpr, false
		if next == -1 || (iTag != -1 && iTag < next) {
			next, isTag = iTag, true
		}
		if next == -1 {
			tokens = append(tokens, token{text: s})
			break
		}
		if next > 0 {
			tokens = append(tokens, token{text: s[:next]})
		}
		s = s[next:]
		closer := "}}"
		if isTag {
			closer = "%}"
		}
		end := strings.Index(s, closer)
		if end == -1 {
			// unterminated marker, treat the rest as text
			tokens = append(tokens, token{text: s})
			break
		}
		inner := strings.TrimSpace(s[2:end])
		if isTag {
			tokens = append(tokens, token{tag: inner})
		} else {
			tokens = append(tokens, token{expr: inner})
		}
		s = s[end+2:]
	}
	return tokens
}

// parseUntil consumes tokens until one of the stop tags (endif, else, endfor)
// is found at the current nesting level.
func parseUntil(tokens []token, stop []string) ([]tnode, []token, error) {
	var nodes []tnode
	for len(tokens) > 0 {
		tok := tokens[0]

		switch {
		case tok.tag == "":
			if tok.expr != "" {
				nodes = append(nodes, interpNode(tok.expr))
			} else {
				nodes = append(nodes, textNode(tok.text))
			}
			tokens = tokens[1:]

		case matchesStop(tok.tag, stop):
			return nodes, tokens, nil

		case strings.HasPrefix(tok.tag, "if "):
			cond := strings.TrimSpace(strings.TrimPrefix(tok.tag, "if "))
			body, rest, err := parseUntil(tokens[1:], []string{"endif", "else"})
			if err != nil {
				return nil, nil, err
			}
			node := ifNode{cond: cond, body: body}
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("unterminated {%% if %%} block")
			}
			if rest[0].tag == "else" {
				elseBody, rest2, err := parseUntil(rest[1:], []string{"endif"})
				if err != nil {
					return nil, nil, err
				}
				if len(rest2) == 0 {
					return nil, nil, fmt.Errorf("unterminated {%% if %%} block")
				}
				node.elseBody = elseBody
				rest = rest2
			}
			tokens = rest[1:] // consume endif
			nodes = append(nodes, node)

		case strings.HasPrefix(tok.tag, "for "):
			head := strings.TrimSpace(strings.TrimPrefix(tok.tag, "for "))
			parts := strings.SplitN(head, " in ", 2)
			if len(parts) != 2 {
				return nil, nil, fmt.Errorf("malformed for block %q", tok.tag)
			}
			body, rest, err := parseUntil(tokens[1:], []string{"endfor"})
			if err != nil {
				return nil, nil, err
			}
			if len(rest) == 0 {
				return nil, nil, fmt.Errorf("unterminated {%% for %%} block")
			}
			tokens = rest[1:] // consume endfor
			nodes = append(nodes, forNode{
				varName: strings.TrimSpace(parts[0]),
				seqExpr: strings.TrimSpace(parts[1]),
				body:    body,
			})

		default:
			return nil, nil, fmt.Errorf("unknown template block %q", tok.tag)
		}
	}
	return nodes, tokens, nil
}

func matchesStop(tag string, stop []string) bool {
	for _, s := range stop {
		if tag == s {
			return true
		}
	}
	return false
}

// renderNodes renders a parsed template against the context.
func (e *Engine) renderNodes(nodes []tnode, context map[string]any, sb *strings.Builder) error {
	for _, node := range nodes {
		switch n := node.(type) {
		case textNode:
			sb.WriteString(string(n))

		case interpNode:
			value, err := e.evalPipeline(string(n), context)
			if err != nil {
				return err
			}
			sb.WriteString(Stringify(value))

		case ifNode:
			ok, err := e.eval.EvaluateBool(n.cond, context)
			if err != nil {
				return err
			}
			if ok {
				if err := e.renderNodes(n.body, context, sb); err != nil {
					return err
				}
			} else if n.elseBody != nil {
				if err := e.renderNodes(n.elseBody, context, sb); err != nil {
					return err
				}
			}

		case forNode:
			items, err := e.eval.EvaluateList(n.seqExpr, context)
			if err != nil {
				return err
			}
			// shadow the loop variable without mutating the caller's context
			scoped := make(map[string]any, len(context)+1)
			for k, v := range context {
				scoped[k] = v
			}
			for _, item := range items {
				scoped[n.varName] = item
				if err := e.renderNodes(n.body, scoped, sb); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
