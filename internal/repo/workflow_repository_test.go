package repo

import (
	"testing"
	"time"

	wfmodel "github.com/prana-run/prana/internal/workflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRow_ToModelRoundTripsJSONFields(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	row := workflowRow{
		ID:          "wf-1",
		UserID:      "user-1",
		Name:        "Order intake",
		Description: "routes new orders",
		Status:      "active",
		Nodes:       []byte(`[{"key":"trigger","type":"trigger","integrationName":"http","actionName":"webhook"}]`),
		Connections: []byte(`[]`),
		Variables:   []byte(`{"region":"us-east"}`),
		Settings:    []byte(`{"maxExecutionTime":30}`),
		Version:     3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	wf, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, wfmodel.WorkflowID("wf-1"), wf.ID())
	assert.Equal(t, "user-1", wf.UserID())
	assert.Equal(t, "Order intake", wf.Name())
	assert.Equal(t, wfmodel.WorkflowStatus("active"), wf.Status())
	assert.Equal(t, "us-east", wf.Variables()["region"])
	assert.Len(t, wf.Nodes(), 1)
	assert.Equal(t, "trigger", wf.Nodes()[0].Key)
	assert.Equal(t, 3, wf.Version())
	assert.True(t, wf.CreatedAt().Equal(now))
	assert.Empty(t, wf.GetUncommittedEvents())
}

func TestWorkflowRow_ToModelRejectsMalformedJSON(t *testing.T) {
	row := workflowRow{
		Nodes:       []byte(`not json`),
		Connections: []byte(`[]`),
		Variables:   []byte(`{}`),
		Settings:    []byte(`{}`),
	}
	_, err := row.toModel()
	assert.Error(t, err)
}
