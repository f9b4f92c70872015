package mysqlquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSelect_DetectsSelectCaseInsensitively(t *testing.T) {
	assert.True(t, isSelect("  select * from users"))
	assert.True(t, isSelect("SELECT id FROM t"))
	assert.False(t, isSelect("INSERT INTO t VALUES (1)"))
	assert.False(t, isSelect("update t set x=1"))
}

func TestDecodeValue_ParsesJSONBytesOtherwiseString(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, decodeValue([]byte(`{"a":1}`)))
	assert.Equal(t, "plain text", decodeValue([]byte("plain text")))
	assert.Equal(t, int64(42), decodeValue(int64(42)))
}

func TestToParams_NonSliceReturnsNil(t *testing.T) {
	assert.Nil(t, toParams("not a slice"))
	assert.Equal(t, []interface{}{1, "x"}, toParams([]interface{}{1, "x"}))
}

func TestAction_MissingQueryErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
}
