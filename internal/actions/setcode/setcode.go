// Package setcode implements the "set" data-shaping action: manual
// field assignment, a JSON overlay, or a whole-output expression.
// Grounded on internal/node/runtime/nodes/{set_node,code_node}.go,
// reworked because template rendering already happens upstream in
// nodeexec's renderParams (every leaf of Params is passed through
// internal/template.ProcessMap before Execute sees it) — so unlike the
// teacher's SetNode/CodeNode, this action never evaluates expressions
// itself; it only shapes the already-rendered values. A single
// `{{ expr }}` value is returned with its native type preserved by the
// renderer, so "expression" mode is just a pass-through of that value.
package setcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/prana-run/prana/internal/action"
)

// Action implements manual/json/expression data shaping.
type Action struct {
	action.NopPrepare
	action.NopResume
}

func (Action) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	mode, _ := rendered["mode"].(string)
	if mode == "" {
		mode = "manual"
	}
	keepOnlySet, _ := rendered["keep_only_set"].(bool)
	dotNotation := true
	if v, ok := rendered["dot_notation"].(bool); ok {
		dotNotation = v
	}
	data, _ := rendered["data"].(map[string]interface{})

	var result map[string]interface{}
	if keepOnlySet {
		result = make(map[string]interface{})
	} else {
		result = cloneMap(data)
	}

	switch mode {
	case "manual":
		values, _ := rendered["values"].([]interface{})
		for _, v := range values {
			entry, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			name := fmt.Sprintf("%v", entry["name"])
			value := convertType(entry["value"], stringOr(entry["type"], "string"))
			if dotNotation && strings.Contains(name, ".") {
				setNested(result, name, value)
			} else {
				result[name] = value
			}
		}
	case "json":
		raw, _ := rendered["json_data"].(string)
		if raw == "" {
			break
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return action.Result{}, fmt.Errorf("setcode: invalid json_data: %w", err)
		}
		for k, v := range parsed {
			result[k] = v
		}
	case "expression":
		if m, ok := rendered["expression"].(map[string]interface{}); ok {
			result = m
		}
	default:
		return action.Result{}, fmt.Errorf("setcode: unknown mode %q", mode)
	}

	return action.Completed(result), nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func setNested(m map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func convertType(value interface{}, targetType string) interface{} {
	switch targetType {
	case "string":
		return fmt.Sprintf("%v", value)
	case "number":
		switch v := value.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			n, _ := strconv.ParseFloat(v, 64)
			return n
		default:
			return 0.0
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v
		case string:
			return v != "" && v != "false" && v != "0"
		default:
			return v != nil
		}
	case "json":
		if s, ok := value.(string); ok {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
		}
		return value
	default:
		return value
	}
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// Register adds the set action under the "core" integration.
func Register(r *action.Registry) error {
	return r.Register(action.Descriptor{
		IntegrationName: "core",
		ActionName:      "set",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{},
	})
}
