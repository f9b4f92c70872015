package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflow(t *testing.T) {
	tests := []struct {
		name         string
		userID       string
		workflowName string
		wantErr      bool
	}{
		{name: "valid workflow", userID: "user-123", workflowName: "Test Workflow", wantErr: false},
		{name: "empty name", userID: "user-123", workflowName: "", wantErr: true},
		{name: "empty userID", userID: "", workflowName: "Test Workflow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := NewWorkflow(tt.userID, tt.workflowName, "desc")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, wf)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, wf)
			assert.Equal(t, tt.workflowName, wf.Name())
			assert.Equal(t, WorkflowStatusDraft, wf.Status())
			assert.NotEmpty(t, wf.ID())
			assert.Len(t, wf.GetUncommittedEvents(), 1)
		})
	}
}

func triggerNode(key string) Node {
	return Node{
		Key:             key,
		Name:            key,
		Type:            NodeTypeTrigger,
		IntegrationName: "core",
		ActionName:      "manual_trigger",
		OutputPorts:     []string{"main"},
	}
}

func actionNode(key string) Node {
	return Node{
		Key:             key,
		Name:            key,
		Type:            NodeTypeAction,
		IntegrationName: "core",
		ActionName:      "noop",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success", "error"},
	}
}

func TestWorkflow_AddNodeRejectsDuplicateKey(t *testing.T) {
	wf, err := NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	require.NoError(t, wf.AddNode(triggerNode("t")))

	err = wf.AddNode(triggerNode("t"))
	assert.Error(t, err)
}

func TestWorkflow_AddConnectionValidatesPorts(t *testing.T) {
	wf, err := NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	require.NoError(t, wf.AddNode(triggerNode("t")))
	require.NoError(t, wf.AddNode(actionNode("a")))

	err = wf.AddConnection(Connection{From: "t", FromPort: "main", To: "a", ToPort: "main"})
	assert.NoError(t, err)

	err = wf.AddConnection(Connection{From: "t", FromPort: "bogus", To: "a", ToPort: "main"})
	assert.Error(t, err)

	err = wf.AddConnection(Connection{From: "t", FromPort: "main", To: "a", ToPort: "bogus"})
	assert.Error(t, err)
}

func TestWorkflow_ActivateRequiresTriggerAndNodes(t *testing.T) {
	wf, err := NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	assert.Error(t, wf.Activate(), "no nodes yet")

	require.NoError(t, wf.AddNode(actionNode("a")))
	assert.Error(t, wf.Activate(), "no trigger node")

	require.NoError(t, wf.AddNode(triggerNode("t")))
	assert.NoError(t, wf.Activate())
	assert.Equal(t, WorkflowStatusActive, wf.Status())
}

func TestWorkflow_ModifyingActiveWorkflowReturnsToDraft(t *testing.T) {
	wf, err := NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	require.NoError(t, wf.AddNode(triggerNode("t")))
	require.NoError(t, wf.Activate())

	require.NoError(t, wf.AddNode(actionNode("a")))
	assert.Equal(t, WorkflowStatusDraft, wf.Status())
}

func TestWorkflow_AllowsCycles(t *testing.T) {
	// Loop classification belongs to the compiler; the aggregate itself
	// must accept a workflow whose connections form a cycle.
	wf, err := NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	require.NoError(t, wf.AddNode(triggerNode("t")))
	require.NoError(t, wf.AddNode(actionNode("a")))
	require.NoError(t, wf.AddNode(actionNode("b")))

	require.NoError(t, wf.AddConnection(Connection{From: "t", FromPort: "main", To: "a", ToPort: "main"}))
	require.NoError(t, wf.AddConnection(Connection{From: "a", FromPort: "success", To: "b", ToPort: "main"}))
	require.NoError(t, wf.AddConnection(Connection{From: "b", FromPort: "success", To: "a", ToPort: "main"}))

	assert.NoError(t, wf.Activate())
}

func TestWorkflow_ArchiveIsTerminal(t *testing.T) {
	wf, err := NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	require.NoError(t, wf.Archive())
	assert.Error(t, wf.AddNode(triggerNode("t")))
	assert.Error(t, wf.Archive())
}
