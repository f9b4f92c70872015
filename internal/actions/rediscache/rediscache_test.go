package rediscache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAction_MissingKeyErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"operation": "get"})
	require.Error(t, err)
}

func TestAction_UnknownOperationErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"key": "k", "operation": "flush"})
	require.Error(t, err)
}
