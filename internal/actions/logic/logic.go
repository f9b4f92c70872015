// Package logic implements the built-in conditional/branching actions:
// if, switch and merge. Grounded on
// internal/node/runtime/nodes/{if_node,switch_node,merge_node}.go,
// reworked from the teacher's fixed named output ports and "_output"
// data-key convention into the engine's generic OutputPorts/port-routing
// model (spec §4.3: an action reports its chosen port via Result.Port).
package logic

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/prana-run/prana/internal/action"
)

// Register adds if/switch/merge under the "logic" integration.
func Register(r *action.Registry) error {
	actions := []action.Descriptor{
		{IntegrationName: "logic", ActionName: "if", InputPorts: []string{"main"}, OutputPorts: []string{"true", "false"}, Action: IfAction{}},
		{IntegrationName: "logic", ActionName: "switch", InputPorts: []string{"main"}, OutputPorts: []string{"output0", "output1", "output2", "output3", "fallback"}, Action: SwitchAction{}},
		{IntegrationName: "logic", ActionName: "merge", InputPorts: []string{"input1", "input2"}, OutputPorts: []string{"success"}, Action: MergeAction{}},
	}
	for _, d := range actions {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// IfAction routes its input to "true" or "false" based on a set of
// field/operator/value conditions combined with AND/OR.
type IfAction struct {
	action.NopPrepare
	action.NopResume
}

// Condition is one entry of an If/Switch action's "conditions"/"rules"
// param. Output is only meaningful for Switch rules.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
	Output   string
}

func (IfAction) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	conditions := toConditions(rendered["conditions"])
	combine := stringParam(rendered, "combine_conditions", "and")
	data, _ := rendered["data"].(map[string]interface{})

	if evaluateConditions(conditions, data, combine) {
		return action.CompletedOnPort(data, "true"), nil
	}
	return action.CompletedOnPort(data, "false"), nil
}

// SwitchAction routes its input to one of N rule-driven ports, or a
// fallback port when no rule matches.
type SwitchAction struct {
	action.NopPrepare
	action.NopResume
}

func (SwitchAction) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	rules := toConditions(rendered["rules"])
	fallback := stringParam(rendered, "fallback_port", "fallback")
	data, _ := rendered["data"].(map[string]interface{})

	for _, r := range rules {
		if evaluateCondition(fieldValue(data, r.Field), r.Operator, r.Value) {
			return action.CompletedOnPort(data, portNameOf(r, fallback)), nil
		}
	}
	return action.CompletedOnPort(data, fallback), nil
}

func portNameOf(c Condition, fallback string) string {
	if c.Output != "" {
		return c.Output
	}
	return fallback
}

// MergeAction combines two upstream branches into a single output.
// Mode selection and clash handling are ported directly from the
// teacher's MergeNode.
type MergeAction struct {
	action.NopPrepare
	action.NopResume
}

func (MergeAction) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	mode := stringParam(rendered, "mode", "append")
	mergeKey := stringParam(rendered, "merge_key", "id")
	clash := stringParam(rendered, "clash_handling", "prefer_second")

	first := rendered["input1"]
	second := rendered["input2"]

	var result interface{}
	switch mode {
	case "append":
		result = append(toArray(first), toArray(second)...)
	case "merge_by_index":
		result = mergeByIndex(toArray(first), toArray(second), clash)
	case "merge_by_key":
		result = mergeByKey(toArray(first), toArray(second), mergeKey, clash)
	case "keep_key_matches":
		result = keepKeyMatches(toArray(first), toArray(second), mergeKey)
	case "remove_key_matches":
		result = removeKeyMatches(toArray(first), toArray(second), mergeKey)
	case "combine":
		result = combineAll(toArray(first), toArray(second))
	case "choose_first":
		result = first
	case "choose_second":
		result = second
	default:
		return action.Result{}, fmt.Errorf("logic: unknown merge mode %q", mode)
	}

	return action.Completed(map[string]interface{}{"result": result}), nil
}

func evaluateConditions(conditions []Condition, data map[string]interface{}, combine string) bool {
	if len(conditions) == 0 {
		return true
	}
	results := make([]bool, len(conditions))
	for i, c := range conditions {
		results[i] = evaluateCondition(fieldValue(data, c.Field), c.Operator, c.Value)
	}
	if combine == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func evaluateCondition(fieldVal interface{}, operator string, compareValue interface{}) bool {
	switch operator {
	case "equals", "==":
		return compareEqual(fieldVal, compareValue)
	case "not_equals", "!=":
		return !compareEqual(fieldVal, compareValue)
	case "contains":
		return strings.Contains(toStr(fieldVal), toStr(compareValue))
	case "not_contains":
		return !strings.Contains(toStr(fieldVal), toStr(compareValue))
	case "starts_with":
		return strings.HasPrefix(toStr(fieldVal), toStr(compareValue))
	case "ends_with":
		return strings.HasSuffix(toStr(fieldVal), toStr(compareValue))
	case "greater_than", ">":
		return toNumber(fieldVal) > toNumber(compareValue)
	case "greater_or_equal", ">=":
		return toNumber(fieldVal) >= toNumber(compareValue)
	case "less_than", "<":
		return toNumber(fieldVal) < toNumber(compareValue)
	case "less_or_equal", "<=":
		return toNumber(fieldVal) <= toNumber(compareValue)
	case "is_empty":
		return isEmpty(fieldVal)
	case "is_not_empty":
		return !isEmpty(fieldVal)
	case "is_null":
		return fieldVal == nil
	case "is_not_null":
		return fieldVal != nil
	case "regex":
		re, err := regexp.Compile(toStr(compareValue))
		return err == nil && re.MatchString(toStr(fieldVal))
	case "in":
		return isIn(fieldVal, compareValue)
	case "not_in":
		return !isIn(fieldVal, compareValue)
	default:
		return false
	}
}

func fieldValue(data map[string]interface{}, field string) interface{} {
	if field == "" {
		return data
	}
	var current interface{} = data
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func compareEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return toStr(a) == toStr(b)
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}

func isIn(v, list interface{}) bool {
	s := toStr(v)
	if str, ok := list.(string); ok {
		for _, p := range strings.Split(str, ",") {
			if strings.TrimSpace(p) == s {
				return true
			}
		}
		return false
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if toStr(rv.Index(i).Interface()) == s {
			return true
		}
	}
	return false
}

func toStr(v interface{}) string { return fmt.Sprintf("%v", v) }

func toNumber(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		n, _ := strconv.ParseFloat(val, 64)
		return n
	default:
		return 0
	}
}

func toArray(v interface{}) []interface{} {
	switch val := v.(type) {
	case []interface{}:
		return val
	case map[string]interface{}:
		return []interface{}{val}
	case nil:
		return []interface{}{}
	default:
		return []interface{}{val}
	}
}

func mergeByIndex(a, b []interface{}, clash string) []interface{} {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	result := make([]interface{}, n)
	for i := 0; i < n; i++ {
		var m1, m2 map[string]interface{}
		if i < len(a) {
			m1, _ = a[i].(map[string]interface{})
		}
		if i < len(b) {
			m2, _ = b[i].(map[string]interface{})
		}
		result[i] = mergeObjects(m1, m2, clash)
	}
	return result
}

func mergeByKey(a, b []interface{}, key, clash string) []interface{} {
	indexed := make(map[string]map[string]interface{}, len(a))
	for _, item := range a {
		if m, ok := item.(map[string]interface{}); ok {
			indexed[toStr(m[key])] = m
		}
	}
	seen := make(map[string]bool, len(b))
	result := make([]interface{}, 0, len(a)+len(b))
	for _, item := range b {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		k := toStr(m[key])
		seen[k] = true
		if m1, exists := indexed[k]; exists {
			result = append(result, mergeObjects(m1, m, clash))
		} else {
			result = append(result, m)
		}
	}
	for _, item := range a {
		if m, ok := item.(map[string]interface{}); ok && !seen[toStr(m[key])] {
			result = append(result, m)
		}
	}
	return result
}

func keepKeyMatches(a, b []interface{}, key string) []interface{} {
	keys := keySet(b, key)
	result := make([]interface{}, 0)
	for _, item := range a {
		if m, ok := item.(map[string]interface{}); ok && keys[toStr(m[key])] {
			result = append(result, m)
		}
	}
	return result
}

func removeKeyMatches(a, b []interface{}, key string) []interface{} {
	keys := keySet(b, key)
	result := make([]interface{}, 0)
	for _, item := range a {
		if m, ok := item.(map[string]interface{}); ok && !keys[toStr(m[key])] {
			result = append(result, m)
		}
	}
	return result
}

func keySet(items []interface{}, key string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			set[toStr(m[key])] = true
		}
	}
	return set
}

func combineAll(a, b []interface{}) []interface{} {
	result := make([]interface{}, 0, len(a)*len(b))
	for _, itemA := range a {
		m1, _ := itemA.(map[string]interface{})
		for _, itemB := range b {
			m2, _ := itemB.(map[string]interface{})
			combined := make(map[string]interface{}, len(m1)+len(m2))
			for k, v := range m1 {
				combined[k] = v
			}
			for k, v := range m2 {
				if _, exists := combined[k]; exists {
					combined["input2_"+k] = v
				} else {
					combined[k] = v
				}
			}
			result = append(result, combined)
		}
	}
	return result
}

func mergeObjects(m1, m2 map[string]interface{}, clash string) map[string]interface{} {
	result := make(map[string]interface{}, len(m1)+len(m2))
	for k, v := range m1 {
		result[k] = v
	}
	for k, v := range m2 {
		existing, exists := result[k]
		if !exists {
			result[k] = v
			continue
		}
		switch clash {
		case "prefer_first":
		case "merge":
			if em, ok := existing.(map[string]interface{}); ok {
				if nm, ok := v.(map[string]interface{}); ok {
					result[k] = mergeObjects(em, nm, clash)
					continue
				}
			}
			result[k] = v
		default: // prefer_second
			result[k] = v
		}
	}
	return result
}

func toConditions(raw interface{}) []Condition {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]Condition, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, Condition{
			Field:    toStr(m["field"]),
			Operator: toStr(m["operator"]),
			Value:    m["value"],
			Output:   toStr(m["output"]),
		})
	}
	return out
}

func stringParam(rendered map[string]interface{}, key, def string) string {
	if v, ok := rendered[key].(string); ok && v != "" {
		return v
	}
	return def
}
