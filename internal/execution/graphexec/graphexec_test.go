package graphexec

import (
	"context"
	"testing"

	"github.com/prana-run/prana/internal/action"
	"github.com/prana-run/prana/internal/compiler"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/execution/nodeexec"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(key string, typ wfmodel.NodeType, outputPorts ...string) wfmodel.Node {
	in := []string{"main"}
	if typ == wfmodel.NodeTypeTrigger {
		in = nil
	}
	return wfmodel.Node{
		Key: key, Type: typ, IntegrationName: "core", ActionName: key,
		InputPorts: in, OutputPorts: outputPorts,
	}
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

func loopInfosFrom(loops []compiler.LoopInfo) []execmodel.LoopInfo {
	out := make([]execmodel.LoopInfo, len(loops))
	for i, l := range loops {
		out[i] = execmodel.LoopInfo{
			LoopID: l.LoopID, Nodes: l.Nodes, TerminationNodeKey: l.TerminationNodeKey,
			MaxIterations: execmodel.DefaultMaxIterations, LoopTimeoutMs: execmodel.DefaultLoopTimeoutMs,
		}
	}
	return out
}

func newLive(graph *compiler.ExecutionGraph) *execmodel.LiveExecution {
	p := execmodel.NewPersisted(graph.WorkflowID, graph.WorkflowVersion, "user-1", execmodel.TriggerManual, nil)
	return execmodel.Rebuild(p, nil, loopInfosFrom(graph.Loops))
}

type portAction struct {
	action.NopPrepare
	action.NopResume
	port string
}

func (p portAction) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	return action.CompletedOnPort(rendered, p.port), nil
}

type suspendOnceAction struct {
	action.NopPrepare
	calls int
}

func (s *suspendOnceAction) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	s.calls++
	return action.Suspended("webhook", map[string]interface{}{"url": "https://example.com"}), nil
}

func (s *suspendOnceAction) Resume(ctx context.Context, suspensionData interface{}, resumeInput map[string]interface{}) (action.Result, error) {
	return action.Completed(resumeInput), nil
}

// literalAction ignores its routed input and completes with a fixed
// value, so a test can tell which branch of a fork contributed which
// value to a downstream join.
type literalAction struct {
	action.NopPrepare
	action.NopResume
	port  string
	value interface{}
}

func (l literalAction) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	return action.CompletedOnPort(l.value, l.port), nil
}

type failingAction struct {
	action.NopPrepare
	action.NopResume
}

func (failingAction) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	return action.Failed(assertErr("boom"), nil), nil
}

type assertErr string

func (a assertErr) Error() string { return string(a) }

type countingLoopCheck struct {
	action.NopPrepare
	action.NopResume
	iterations int
	seen       int
}

func (c *countingLoopCheck) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	c.seen++
	if c.seen < c.iterations {
		return action.CompletedOnPort(nil, "true"), nil
	}
	return action.CompletedOnPort(nil, "false"), nil
}

func registerEcho(t *testing.T, r *action.Registry, name string, a action.Action, ports []string) {
	t.Helper()
	require.NoError(t, r.Register(action.Descriptor{IntegrationName: "core", ActionName: name, OutputPorts: ports, Action: a}))
}

func TestRun_LinearWorkflowCompletes(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger, "success"), node("a", wfmodel.NodeTypeAction, "success", "error"), node("b", wfmodel.NodeTypeAction, "success", "error")},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "a", ToPort: "main"},
			{From: "a", FromPort: "success", To: "b", ToPort: "main"},
		},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	registerEcho(t, reg, "a", portAction{port: "success"}, []string{"success", "error"})
	registerEcho(t, reg, "b", portAction{port: "success"}, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})

	require.Equal(t, execmodel.StatusCompleted, result.Persisted.Status)
	assert.Len(t, result.Persisted.NodeExecutions, 3)
	_, hasB := result.Persisted.OutputData["b"]
	assert.True(t, hasB)
}

func TestRun_BranchingOnlyFollowsActivePath(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{
			node("t", wfmodel.NodeTypeTrigger, "success"),
			node("check", wfmodel.NodeTypeLogic, "true", "false"),
			node("onTrue", wfmodel.NodeTypeAction, "success", "error"),
			node("onFalse", wfmodel.NodeTypeAction, "success", "error"),
		},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "check", ToPort: "main"},
			{From: "check", FromPort: "true", To: "onTrue", ToPort: "main"},
			{From: "check", FromPort: "false", To: "onFalse", ToPort: "main"},
		},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	registerEcho(t, reg, "check", portAction{port: "true"}, []string{"true", "false"})
	registerEcho(t, reg, "onTrue", portAction{port: "success"}, []string{"success", "error"})
	registerEcho(t, reg, "onFalse", portAction{port: "success"}, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})

	require.Equal(t, execmodel.StatusCompleted, result.Persisted.Status)
	ranOnFalse := false
	for _, ne := range result.Persisted.NodeExecutions {
		if ne.NodeKey == "onFalse" {
			ranOnFalse = true
		}
	}
	assert.False(t, ranOnFalse)
}

func TestRun_SuspensionStopsDriverAndResumeContinues(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger, "success"), node("wait", wfmodel.NodeTypeWait, "success", "error")},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "wait", ToPort: "main"}},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	waitAction := &suspendOnceAction{}
	registerEcho(t, reg, "wait", waitAction, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)
	wfRef := nodeexec.WorkflowRef{ID: graph.WorkflowID}
	execRef := nodeexec.ExecutionRef{ID: live.Persisted.ID.String()}

	result := driver.Run(context.Background(), graph, live, wfRef, execRef)
	require.Equal(t, execmodel.StatusSuspended, result.Persisted.Status)
	require.NotNil(t, result.Persisted.Suspension)
	assert.Equal(t, "wait", result.Persisted.Suspension.NodeKey)

	resumed := driver.Resume(context.Background(), graph, result, wfRef, execRef, map[string]interface{}{"ok": true})
	require.Equal(t, execmodel.StatusCompleted, resumed.Persisted.Status)
}

func TestRun_UnconnectedErrorPortFailsExecution(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{node("t", wfmodel.NodeTypeTrigger, "success"), node("a", wfmodel.NodeTypeAction, "success", "error")},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "a", ToPort: "main"}},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	registerEcho(t, reg, "a", failingAction{}, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})

	require.Equal(t, execmodel.StatusFailed, result.Persisted.Status)
	require.NotNil(t, result.Persisted.Error)
}

func TestRun_ConnectedErrorPortConsumesFailure(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{
			node("t", wfmodel.NodeTypeTrigger, "success"),
			node("a", wfmodel.NodeTypeAction, "success", "error"),
			node("onErr", wfmodel.NodeTypeAction, "success", "error"),
		},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "a", ToPort: "main"},
			{From: "a", FromPort: "error", To: "onErr", ToPort: "main"},
		},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	registerEcho(t, reg, "a", failingAction{}, []string{"success", "error"})
	registerEcho(t, reg, "onErr", portAction{port: "success"}, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})

	require.Equal(t, execmodel.StatusCompleted, result.Persisted.Status)
	ranOnErr := false
	for _, ne := range result.Persisted.NodeExecutions {
		if ne.NodeKey == "onErr" {
			ranOnErr = true
		}
	}
	assert.True(t, ranOnErr)
}

func TestRun_DiamondForkJoinAggregatesOrderedContributors(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{
			node("t", wfmodel.NodeTypeTrigger, "success"),
			node("left", wfmodel.NodeTypeAction, "success", "error"),
			node("right", wfmodel.NodeTypeAction, "success", "error"),
			node("join", wfmodel.NodeTypeAction, "success", "error"),
		},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "left", ToPort: "main"},
			{From: "t", FromPort: "success", To: "right", ToPort: "main"},
			{From: "left", FromPort: "success", To: "join", ToPort: "main"},
			{From: "right", FromPort: "success", To: "join", ToPort: "main"},
		},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	registerEcho(t, reg, "left", literalAction{port: "success", value: "left-out"}, []string{"success", "error"})
	registerEcho(t, reg, "right", literalAction{port: "success", value: "right-out"}, []string{"success", "error"})
	registerEcho(t, reg, "join", portAction{port: "success"}, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})

	require.Equal(t, execmodel.StatusCompleted, result.Persisted.Status)

	var joinNE *execmodel.NodeExecution
	for i := range result.Persisted.NodeExecutions {
		if result.Persisted.NodeExecutions[i].NodeKey == "join" && result.Persisted.NodeExecutions[i].Status == execmodel.NodeExecStatusCompleted {
			joinNE = &result.Persisted.NodeExecutions[i]
		}
	}
	require.NotNil(t, joinNE)

	joinInput, ok := joinNE.OutputData.(map[string]interface{})
	require.True(t, ok)
	main, ok := joinInput["main"].([]interface{})
	require.True(t, ok, "join's \"main\" port should aggregate both contributors into an ordered list")
	require.Len(t, main, 2)
	assert.Equal(t, "left-out", main[0])
	assert.Equal(t, "right-out", main[1])
}

func TestRun_SafeLoopIteratesThenTerminates(t *testing.T) {
	wf := buildWorkflow(t,
		[]wfmodel.Node{
			node("t", wfmodel.NodeTypeTrigger, "success"),
			node("body", wfmodel.NodeTypeAction, "success", "error"),
			node("check", wfmodel.NodeTypeLogic, "true", "false"),
			node("after", wfmodel.NodeTypeAction, "success", "error"),
		},
		[]wfmodel.Connection{
			{From: "t", FromPort: "success", To: "body", ToPort: "main"},
			{From: "body", FromPort: "success", To: "check", ToPort: "main"},
			{From: "check", FromPort: "true", To: "body", ToPort: "main"},
			{From: "check", FromPort: "false", To: "after", ToPort: "main"},
		},
	)
	graph, err := compiler.Compile(wf, "", func(string, string) bool { return true })
	require.NoError(t, err)
	require.Len(t, graph.Loops, 1)

	reg := action.NewRegistry()
	registerEcho(t, reg, "t", portAction{port: "success"}, []string{"success"})
	registerEcho(t, reg, "body", portAction{port: "success"}, []string{"success", "error"})
	check := &countingLoopCheck{iterations: 3}
	registerEcho(t, reg, "check", check, []string{"true", "false"})
	registerEcho(t, reg, "after", portAction{port: "success"}, []string{"success", "error"})

	driver := New(nodeexec.New(reg), nil)
	live := newLive(graph)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})

	require.Equal(t, execmodel.StatusCompleted, result.Persisted.Status)
	assert.Equal(t, 3, check.seen)

	bodyRuns := 0
	for _, ne := range result.Persisted.NodeExecutions {
		if ne.NodeKey == "body" {
			bodyRuns++
		}
	}
	assert.Equal(t, 3, bodyRuns)
}
