// Package template implements the Prana template renderer (spec §4.2)
// and the bare path expression grammar (spec §4.1) as one engine: a
// lexer/parser/evaluator for "{{ expr }}" interpolations and
// "{% if %}"/"{% for %}" control blocks, with a fixed
// operator-precedence grammar, a required filter registry, hard
// security limits, and graceful/strict error modes.
package template

import (
	"fmt"
	"strings"
)

const (
	// maxTemplateSize is the hard byte-size ceiling on rendered input
	// (spec §4.2 security limits).
	maxTemplateSize = 100_000
	// maxLoopIterations bounds a single `{% for %}`'s iteration count.
	maxLoopIterations = 10_000
)

// Mode selects graceful (default) or strict error handling.
type Mode int

const (
	// ModeGraceful emits the original "{{ ... }}" text verbatim on
	// expression parse/eval failure; security and filter errors still
	// surface as errors.
	ModeGraceful Mode = iota
	// ModeStrict propagates every error.
	ModeStrict
)

// Options configures a render.
type Options struct {
	Mode    Mode
	Filters map[string]FilterFunc // overrides/additions to DefaultFilters()
}

func (o Options) filters() map[string]FilterFunc {
	if o.Filters != nil {
		return o.Filters
	}
	return DefaultFilters()
}

// CompiledTemplate is a pre-parsed template, reusable across renders with
// different contexts.
type CompiledTemplate struct {
	nodes        []blockNode
	isSingleExpr bool
}

// Compile parses src once for reuse. Returns an error wrapping
// ErrLimitExceeded if src exceeds the size limit.
func Compile(src string) (*CompiledTemplate, error) {
	if len(src) > maxTemplateSize {
		return nil, fmt.Errorf("%w: size", ErrLimitExceeded)
	}
	nodes, err := parseBlocks(src)
	if err != nil {
		return nil, err
	}
	_, isExpr := singleExprNode(nodes)
	return &CompiledTemplate{nodes: nodes, isSingleExpr: isExpr}, nil
}

func singleExprNode(nodes []blockNode) (exprBlock, bool) {
	if len(nodes) != 1 {
		return exprBlock{}, false
	}
	eb, ok := nodes[0].(exprBlock)
	return eb, ok
}

// Render parses and renders src against ctx in one call.
func Render(src string, ctx map[string]interface{}, opts Options) (interface{}, error) {
	ct, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return ct.Render(ctx, opts)
}

// Render evaluates a compiled template. A template that is exactly one
// "{{ expr }}" block (and nothing else) returns the evaluated value with
// its original type preserved; any other template returns a string.
func (ct *CompiledTemplate) Render(ctx map[string]interface{}, opts Options) (interface{}, error) {
	ev := newEvaluator(ctx, opts.filters())

	if eb, ok := singleExprNode(ct.nodes); ok {
		v, err := ev.eval(eb.expr, 0)
		if err == nil {
			return v, nil
		}
		if opts.Mode == ModeGraceful && isSuppressible(err) {
			return eb.raw, nil
		}
		return nil, err
	}

	var sb strings.Builder
	if err := renderNodes(ct.nodes, ev, opts, &sb); err != nil {
		return nil, err
	}
	return sb.String(), nil
}

func renderNodes(nodes []blockNode, ev *evaluator, opts Options, sb *strings.Builder) error {
	for _, n := range nodes {
		switch node := n.(type) {
		case textBlock:
			sb.WriteString(node.text)
		case badExprBlock:
			if opts.Mode == ModeGraceful {
				sb.WriteString(node.raw)
				continue
			}
			return node.parseErr
		case exprBlock:
			v, err := ev.eval(node.expr, 0)
			if err != nil {
				if opts.Mode == ModeGraceful && isSuppressible(err) {
					sb.WriteString(node.raw)
					continue
				}
				return err
			}
			sb.WriteString(stringify(v))
		case ifBlock:
			v, err := ev.eval(node.cond, 0)
			if err != nil {
				return err
			}
			if truthy(v) {
				if err := renderNodes(node.body, ev, opts, sb); err != nil {
					return err
				}
			}
		case forBlock:
			iterVal, err := ev.eval(node.iter, 0)
			if err != nil {
				return err
			}
			list, ok := iterVal.([]interface{})
			if !ok {
				return fmt.Errorf("%w: 'for' requires a list", ErrEval)
			}
			for i, item := range list {
				if i >= maxLoopIterations {
					return fmt.Errorf("%w: iterations", ErrLimitExceeded)
				}
				ev.pushScope(map[string]interface{}{
					node.varName:  item,
					"loop_index": int64(i),
				})
				err := renderNodes(node.body, ev, opts, sb)
				ev.popScope()
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// isSuppressible reports whether err may be swallowed into raw-text
// fallback in graceful mode. Security and filter errors are never
// suppressible.
func isSuppressible(err error) bool {
	switch {
	case isErr(err, ErrLimitExceeded), isErr(err, ErrFilter):
		return false
	default:
		return true
	}
}

func isErr(err, target error) bool {
	for e := err; e != nil; {
		if e == target {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// ProcessMap walks a (possibly nested) map/list structure, rendering
// every string leaf that looks like a template (contains "{{" or "{%")
// as a template against ctx. Structure (keys, list lengths, nesting) and
// non-string / non-template-looking leaves pass through unchanged.
func ProcessMap(m interface{}, ctx map[string]interface{}, opts Options) (interface{}, error) {
	switch v := m.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			rendered, err := ProcessMap(val, ctx, opts)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			rendered, err := ProcessMap(val, ctx, opts)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case string:
		if !looksLikeTemplate(v) {
			return v, nil
		}
		return Render(v, ctx, opts)
	default:
		return v, nil
	}
}

func looksLikeTemplate(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}
