package compiler

import (
	"errors"
	"testing"

	wfmodel "github.com/prana-run/prana/internal/workflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(key string, typ wfmodel.NodeType) wfmodel.Node {
	in := []string{"main"}
	if typ == wfmodel.NodeTypeTrigger {
		in = nil
	}
	out := []string{"success"}
	if typ == wfmodel.NodeTypeLogic {
		out = []string{"true", "false"}
	}
	return wfmodel.Node{Key: key, Type: typ, InputPorts: in, OutputPorts: out}
}

func buildWorkflow(t *testing.T, nodes []wfmodel.Node, conns []wfmodel.Connection) *wfmodel.Workflow {
	t.Helper()
	wf, err := wfmodel.NewWorkflow("user-1", "wf", "")
	require.NoError(t, err)
	for _, n := range nodes {
		require.NoError(t, wf.AddNode(n))
	}
	for _, c := range conns {
		require.NoError(t, wf.AddConnection(c))
	}
	return wf
}

func TestCompile_SingleTriggerSelectedAutomatically(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger), node("a", wfmodel.NodeTypeAction)},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "a", ToPort: "main"}},
	)
	g, err := Compile(wf, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "t", g.TriggerNodeKey)
	assert.Len(t, g.Nodes, 2)
}

func TestCompile_NoTriggerNodesErrors(t *testing.T) {
	wf := buildWorkflow(t, []wfmodel.Node{node("a", wfmodel.NodeTypeAction)}, nil)
	_, err := Compile(wf, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTriggerNodes))
}

func TestCompile_MultipleTriggersWithoutSelectionErrors(t *testing.T) {
	wf := buildWorkflow(t, []wfmodel.Node{node("t1", wfmodel.NodeTypeTrigger), node("t2", wfmodel.NodeTypeTrigger)}, nil)
	_, err := Compile(wf, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMultipleTriggers))
}

func TestCompile_ExplicitTriggerMustBeTriggerType(t *testing.T) {
	wf := buildWorkflow(t, []wfmodel.Node{node("t", wfmodel.NodeTypeTrigger), node("a", wfmodel.NodeTypeAction)}, nil)
	_, err := Compile(wf, "a", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTriggerNotTriggerType))
}

func TestCompile_PrunesUnreachableNodes(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger), node("a", wfmodel.NodeTypeAction), node("orphan", wfmodel.NodeTypeAction)},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "a", ToPort: "main"}},
	)
	g, err := Compile(wf, "", nil)
	require.NoError(t, err)
	_, hasOrphan := g.Nodes["orphan"]
	assert.False(t, hasOrphan)
	assert.Len(t, g.Nodes, 2)
}

func TestCompile_BuildsConnectionIndexes(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger), node("a", wfmodel.NodeTypeAction)},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "a", ToPort: "main"}},
	)
	g, err := Compile(wf, "", nil)
	require.NoError(t, err)
	assert.Len(t, g.ConnectionMap[ForwardKey("t", "success")], 1)
	assert.Len(t, g.ReverseConnectionMap["a"], 1)
	assert.True(t, g.DependencyGraph["a"]["t"])
}

func TestCompile_SafeSimpleLoopWithLogicNodeIsClassified(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{
			node("t", wfmodel.NodeTypeTrigger),
			node("body", wfmodel.NodeTypeAction),
			node("check", wfmodel.NodeTypeLogic),
		},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "body", ToPort: "main"},
			{From: "body", FromPort: "success", To: "check", ToPort: "main"},
			{From: "check", FromPort: "true", To: "body", ToPort: "main"},
		},
	)
	g, err := Compile(wf, "", nil)
	require.NoError(t, err)
	require.Len(t, g.Loops, 1)
	assert.Equal(t, "check", g.Loops[0].TerminationNodeKey)
	assert.ElementsMatch(t, []string{"body", "check"}, g.Loops[0].Nodes)
}

func TestCompile_CycleWithoutLogicNodeIsUnsafe(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{
			node("t", wfmodel.NodeTypeTrigger),
			node("a", wfmodel.NodeTypeAction),
			node("b", wfmodel.NodeTypeAction),
		},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "a", ToPort: "main"},
			{From: "a", FromPort: "success", To: "b", ToPort: "main"},
			{From: "b", FromPort: "success", To: "a", ToPort: "main"},
		},
	)
	_, err := Compile(wf, "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsafeCycle))
}

func TestCompile_UnknownActionRejected(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger), node("a", wfmodel.NodeTypeAction)},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "a", ToPort: "main"}},
	)
	lookup := func(integration, action string) bool { return false }
	_, err := Compile(wf, "", lookup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}
