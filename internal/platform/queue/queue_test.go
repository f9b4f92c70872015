package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_MarshalUnmarshalRoundTrips(t *testing.T) {
	job := Job{
		ID:                "job-1",
		ParentExecutionID: "exec-1",
		ParentNodeKey:     "n1",
		WorkflowID:        "wf-child",
		Input:             map[string]interface{}{"amount": float64(10)},
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.WorkflowID, decoded.WorkflowID)
	assert.Equal(t, job.Input, decoded.Input)
}

func TestNew_DefaultsKeyWhenNameEmpty(t *testing.T) {
	q := New(nil, "")
	assert.Equal(t, "prana:subworkflow-jobs", q.key)
}
