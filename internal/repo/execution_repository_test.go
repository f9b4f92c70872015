package repo

import (
	"database/sql"
	"testing"
	"time"

	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRow_ToModelRoundTripsJSONFields(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	row := executionRow{
		ID:                    "exec-1",
		WorkflowID:            "wf-1",
		WorkflowVersion:       2,
		UserID:                "user-1",
		TriggerType:           "manual",
		TriggerID:             sql.NullString{},
		Status:                "running",
		InputData:             []byte(`{"a":1}`),
		OutputData:            nil,
		Vars:                  []byte(`{"x":"y"}`),
		PreparationData:       []byte(`{}`),
		NodeExecutions:        []byte(`[{"NodeKey":"n1","Status":"completed"}]`),
		Suspension:            nil,
		CurrentExecutionIndex: 3,
		Error:                 nil,
		StartedAt:             sql.NullTime{Time: now, Valid: true},
		CompletedAt:           sql.NullTime{},
		Metadata:              []byte(`{}`),
		CreatedAt:             now,
		UpdatedAt:             now,
		Version:               1,
	}

	e, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, execmodel.ExecutionID("exec-1"), e.ID)
	assert.Equal(t, float64(1), e.InputData["a"])
	assert.Equal(t, "y", e.Vars["x"])
	assert.Len(t, e.NodeExecutions, 1)
	assert.Equal(t, "n1", e.NodeExecutions[0].NodeKey)
	require.NotNil(t, e.StartedAt)
	assert.True(t, e.StartedAt.Equal(now))
	assert.Nil(t, e.CompletedAt)
}

func TestTimeOrZero_NilReturnsZeroValue(t *testing.T) {
	assert.True(t, timeOrZero(nil).IsZero())
	now := time.Now()
	assert.Equal(t, now, timeOrZero(&now))
}

func TestUnmarshalIfPresent_EmptyBytesNoOp(t *testing.T) {
	var m map[string]interface{}
	require.NoError(t, unmarshalIfPresent(nil, &m))
	assert.Nil(t, m)

	require.NoError(t, unmarshalIfPresent([]byte(`{"k":"v"}`), &m))
	assert.Equal(t, "v", m["k"])
}
