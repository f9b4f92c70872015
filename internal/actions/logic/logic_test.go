package logic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIfAction_TrueAndFalseBranches(t *testing.T) {
	a := IfAction{}
	data := map[string]interface{}{"status": "ok"}

	result, err := a.Execute(context.Background(), map[string]interface{}{
		"data": data,
		"conditions": []interface{}{
			map[string]interface{}{"field": "status", "operator": "equals", "value": "ok"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "true", result.Port)

	result, err = a.Execute(context.Background(), map[string]interface{}{
		"data": data,
		"conditions": []interface{}{
			map[string]interface{}{"field": "status", "operator": "equals", "value": "broken"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "false", result.Port)
}

func TestIfAction_CombineOr(t *testing.T) {
	a := IfAction{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"data": map[string]interface{}{"n": 5},
		"combine_conditions": "or",
		"conditions": []interface{}{
			map[string]interface{}{"field": "n", "operator": "greater_than", "value": 100},
			map[string]interface{}{"field": "n", "operator": "less_than", "value": 10},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "true", result.Port)
}

func TestSwitchAction_FirstMatchingRuleWins(t *testing.T) {
	a := SwitchAction{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"data": map[string]interface{}{"tier": "gold"},
		"rules": []interface{}{
			map[string]interface{}{"field": "tier", "operator": "equals", "value": "silver", "output": "output0"},
			map[string]interface{}{"field": "tier", "operator": "equals", "value": "gold", "output": "output1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "output1", result.Port)
}

func TestSwitchAction_NoMatchGoesToFallback(t *testing.T) {
	a := SwitchAction{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"data":  map[string]interface{}{"tier": "bronze"},
		"rules": []interface{}{},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Port)
}

func TestMergeAction_Append(t *testing.T) {
	a := MergeAction{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"mode":   "append",
		"input1": []interface{}{map[string]interface{}{"id": 1}},
		"input2": []interface{}{map[string]interface{}{"id": 2}},
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Len(t, data["result"], 2)
}

func TestMergeAction_MergeByKeyPrefersSecondOnClash(t *testing.T) {
	a := MergeAction{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"mode":      "merge_by_key",
		"merge_key": "id",
		"input1":    []interface{}{map[string]interface{}{"id": "a", "name": "old"}},
		"input2":    []interface{}{map[string]interface{}{"id": "a", "name": "new"}},
	})
	require.NoError(t, err)
	merged := result.Data.(map[string]interface{})["result"].([]interface{})
	require.Len(t, merged, 1)
	assert.Equal(t, "new", merged[0].(map[string]interface{})["name"])
}

func TestMergeAction_UnknownModeErrors(t *testing.T) {
	a := MergeAction{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"mode": "bogus"})
	require.Error(t, err)
}
