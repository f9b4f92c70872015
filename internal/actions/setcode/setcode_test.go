package setcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_ManualModeSetsDotNotationField(t *testing.T) {
	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"mode": "manual",
		"data": map[string]interface{}{"existing": "x"},
		"values": []interface{}{
			map[string]interface{}{"name": "user.name", "value": "Ada", "type": "string"},
			map[string]interface{}{"name": "count", "value": "3", "type": "number"},
		},
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, "x", data["existing"])
	assert.Equal(t, "Ada", data["user"].(map[string]interface{})["name"])
	assert.Equal(t, 3.0, data["count"])
}

func TestAction_KeepOnlySetDropsExistingFields(t *testing.T) {
	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"mode":          "manual",
		"keep_only_set": true,
		"data":          map[string]interface{}{"existing": "x"},
		"values": []interface{}{
			map[string]interface{}{"name": "a", "value": "b"},
		},
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.NotContains(t, data, "existing")
	assert.Equal(t, "b", data["a"])
}

func TestAction_JSONModeMergesOverData(t *testing.T) {
	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"mode":      "json",
		"data":      map[string]interface{}{"a": 1},
		"json_data": `{"b": 2}`,
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 1, data["a"])
	assert.Equal(t, float64(2), data["b"])
}

func TestAction_JSONModeInvalidJSONErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{
		"mode": "json", "json_data": "{not json",
	})
	require.Error(t, err)
}

func TestAction_ExpressionModeUsesPreRenderedMap(t *testing.T) {
	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"mode":       "expression",
		"data":       map[string]interface{}{"ignored": true},
		"expression": map[string]interface{}{"only": "this"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"only": "this"}, result.Data)
}
