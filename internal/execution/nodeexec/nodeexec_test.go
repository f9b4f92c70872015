package nodeexec

import (
	"context"
	"testing"
	"time"

	"github.com/prana-run/prana/internal/action"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAction struct {
	action.NopPrepare
	action.NopResume
	result action.Result
	err    error
}

func (e echoAction) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	if e.err != nil {
		return action.Result{}, e.err
	}
	if e.result.Kind != 0 || e.result.Data != nil {
		return e.result, nil
	}
	return action.Completed(rendered), nil
}

func newRegistry(t *testing.T, integration, actionName string, a action.Action, outputPorts []string) *action.Registry {
	t.Helper()
	r := action.NewRegistry()
	require.NoError(t, r.Register(action.Descriptor{
		IntegrationName: integration,
		ActionName:      actionName,
		OutputPorts:     outputPorts,
		Action:          a,
	}))
	return r
}

func testNode(integration, actionName string, params map[string]interface{}) wfmodel.Node {
	return wfmodel.Node{
		Key:             "n1",
		Type:            wfmodel.NodeTypeAction,
		IntegrationName: integration,
		ActionName:      actionName,
		Params:          params,
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success", "error"},
	}
}

func emptyLive() *execmodel.LiveExecution {
	p := execmodel.NewPersisted("wf-1", 1, "user-1", execmodel.TriggerManual, nil)
	return execmodel.Rebuild(p, nil, nil)
}

func TestExecute_RawModePassesThroughInput(t *testing.T) {
	r := newRegistry(t, "core", "echo", echoAction{}, []string{"success", "error"})
	x := New(r)
	node := testNode("core", "echo", nil)

	ne := x.Execute(context.Background(), node, map[string]interface{}{"a": 1}, emptyLive(),
		WorkflowRef{ID: "wf-1", Version: 1}, ExecutionRef{ID: "exec-1"}, 0, 0)

	require.Equal(t, execmodel.NodeExecStatusCompleted, ne.Status)
	assert.Equal(t, "success", ne.OutputPort)
	out := ne.OutputData.(map[string]interface{})
	assert.Equal(t, 1, out["a"])
}

func TestExecute_StructuredModeRendersParams(t *testing.T) {
	r := newRegistry(t, "core", "echo", echoAction{}, []string{"success", "error"})
	x := New(r)
	node := testNode("core", "echo", map[string]interface{}{"greeting": "Hi {{ $input.name }}"})

	ne := x.Execute(context.Background(), node, map[string]interface{}{"name": "Ada"}, emptyLive(),
		WorkflowRef{}, ExecutionRef{}, 0, 0)

	require.Equal(t, execmodel.NodeExecStatusCompleted, ne.Status)
	out := ne.OutputData.(map[string]interface{})
	assert.Equal(t, "Hi Ada", out["greeting"])
}

func TestExecute_MissingActionFails(t *testing.T) {
	r := action.NewRegistry()
	x := New(r)
	node := testNode("core", "missing", nil)

	ne := x.Execute(context.Background(), node, nil, emptyLive(), WorkflowRef{}, ExecutionRef{}, 0, 0)
	require.Equal(t, execmodel.NodeExecStatusFailed, ne.Status)
	assert.Equal(t, execmodel.ErrorKindMissingAction, ne.ErrorData.Kind)
}

func TestExecute_InvalidOutputPortFails(t *testing.T) {
	a := echoAction{result: action.CompletedOnPort(map[string]interface{}{}, "not_a_port")}
	r := newRegistry(t, "core", "echo", a, []string{"success", "error"})
	x := New(r)
	node := testNode("core", "echo", nil)

	ne := x.Execute(context.Background(), node, nil, emptyLive(), WorkflowRef{}, ExecutionRef{}, 0, 0)
	require.Equal(t, execmodel.NodeExecStatusFailed, ne.Status)
	assert.Equal(t, execmodel.ErrorKindInvalidPort, ne.ErrorData.Kind)
}

func TestExecute_SuspendedResult(t *testing.T) {
	a := echoAction{result: action.Suspended("webhook", map[string]interface{}{"url": "https://example.com"})}
	r := newRegistry(t, "core", "wait", a, []string{"success"})
	x := New(r)
	node := testNode("core", "wait", nil)

	ne := x.Execute(context.Background(), node, nil, emptyLive(), WorkflowRef{}, ExecutionRef{}, 0, 0)
	require.Equal(t, execmodel.NodeExecStatusSuspended, ne.Status)
	assert.Equal(t, "webhook", ne.SuspensionType)
}

func TestExecute_RetryOnFailureProducesRetrySuspension(t *testing.T) {
	a := echoAction{err: assertErr("boom")}
	r := newRegistry(t, "core", "flaky", a, []string{"success", "error"})
	x := New(r)
	node := testNode("core", "flaky", nil)
	node.Settings.RetryOnFailed = true
	node.Settings.MaxRetries = 2
	node.Settings.RetryDelayMs = 10

	ne := x.Execute(context.Background(), node, nil, emptyLive(), WorkflowRef{}, ExecutionRef{}, 0, 0)
	require.Equal(t, execmodel.NodeExecStatusSuspended, ne.Status)
	assert.Equal(t, "retry", ne.SuspensionType)
	data := ne.SuspensionData.(map[string]interface{})
	assert.Equal(t, 1, data["attempt_number"])
	assert.Equal(t, 2, data["max_attempts"])
}

func TestExecute_RetryExhaustedFails(t *testing.T) {
	a := echoAction{err: assertErr("boom")}
	r := newRegistry(t, "core", "flaky", a, []string{"success", "error"})
	x := New(r)
	node := testNode("core", "flaky", nil)
	node.Settings.RetryOnFailed = true
	node.Settings.MaxRetries = 1

	ne := x.Execute(context.Background(), node, nil, emptyLive(), WorkflowRef{}, ExecutionRef{}, 0, 1)
	require.Equal(t, execmodel.NodeExecStatusFailed, ne.Status)
	assert.Equal(t, execmodel.ErrorKindActionError, ne.ErrorData.Kind)
}

func TestExecute_TimeoutClassifiesAsTimeout(t *testing.T) {
	a := slowAction{delay: 50 * time.Millisecond}
	r := newRegistry(t, "core", "slow", a, []string{"success"})
	x := New(r)
	node := testNode("core", "slow", nil)
	timeoutMs := 5
	node.Settings.TimeoutMs = &timeoutMs

	ne := x.Execute(context.Background(), node, nil, emptyLive(), WorkflowRef{}, ExecutionRef{}, 0, 0)
	require.Equal(t, execmodel.NodeExecStatusFailed, ne.Status)
	assert.Equal(t, execmodel.ErrorKindTimeout, ne.ErrorData.Kind)
}

type slowAction struct {
	action.NopPrepare
	action.NopResume
	delay time.Duration
}

func (s slowAction) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	select {
	case <-time.After(s.delay):
		return action.Completed(rendered), nil
	case <-ctx.Done():
		return action.Result{}, ctx.Err()
	}
}

type assertErr string

func (a assertErr) Error() string { return string(a) }
