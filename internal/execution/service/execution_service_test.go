package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prana-run/prana/internal/action"
	"github.com/prana-run/prana/internal/actions/subworkflow"
	"github.com/prana-run/prana/internal/compiler"
	"github.com/prana-run/prana/internal/execution/graphexec"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/execution/nodeexec"
	"github.com/prana-run/prana/internal/platform/logger"
	"github.com/prana-run/prana/internal/platform/queue"
	"github.com/prana-run/prana/internal/repo"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

// fakeExecutionStore is an in-memory stand-in for *repo.ExecutionRepository.
type fakeExecutionStore struct {
	mu      sync.Mutex
	byID    map[execmodel.ExecutionID]*execmodel.PersistedExecution
	saved   int
	pending []*execmodel.PersistedExecution
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{byID: make(map[execmodel.ExecutionID]*execmodel.PersistedExecution)}
}

func (f *fakeExecutionStore) Save(_ context.Context, e *execmodel.PersistedExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = e
	f.saved++
	return nil
}

func (f *fakeExecutionStore) Update(_ context.Context, e *execmodel.PersistedExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = e
	return nil
}

func (f *fakeExecutionStore) FindByID(_ context.Context, id execmodel.ExecutionID) (*execmodel.PersistedExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return e, nil
}

func (f *fakeExecutionStore) FindByWorkflowID(_ context.Context, _ string, _, _ int) ([]*execmodel.PersistedExecution, error) {
	return nil, nil
}

func (f *fakeExecutionStore) FindPendingResumption(_ context.Context, _ string, _ int) ([]*execmodel.PersistedExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeExecutionStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved
}

// fakeWorkflowStore is an in-memory stand-in for *repo.WorkflowRepository.
type fakeWorkflowStore struct {
	byID map[wfmodel.WorkflowID]*wfmodel.Workflow
}

func (f *fakeWorkflowStore) FindByID(_ context.Context, id wfmodel.WorkflowID) (*wfmodel.Workflow, error) {
	wf, ok := f.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return wf, nil
}

// fakeSubQueue captures Enqueue calls in place of a real Redis-backed queue.Queue.
type fakeSubQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (f *fakeSubQueue) Enqueue(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeSubQueue) enqueued() []*queue.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                       {}
func (noopLogger) Info(string, ...interface{})                        {}
func (noopLogger) Warn(string, ...interface{})                        {}
func (noopLogger) Error(string, ...interface{})                       {}
func (noopLogger) Fatal(string, ...interface{})                       {}
func (l noopLogger) WithFields(map[string]interface{}) logger.Logger  { return l }
func (l noopLogger) WithContext(context.Context) logger.Logger        { return l }

// echoAction completes on a fixed port with a fixed payload, ignoring
// its routed input — used to give a test workflow a predictable output.
type echoAction struct {
	action.NopPrepare
	action.NopResume
	port string
	data interface{}
}

func (e echoAction) Execute(context.Context, map[string]interface{}) (action.Result, error) {
	return action.CompletedOnPort(e.data, e.port), nil
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

func triggerNode(key string) wfmodel.Node {
	return wfmodel.Node{Key: key, Type: wfmodel.NodeTypeTrigger, IntegrationName: "core", ActionName: key, OutputPorts: []string{"success"}}
}

func actionNode(key, integration, actionName string, params map[string]interface{}) wfmodel.Node {
	return wfmodel.Node{
		Key: key, Type: wfmodel.NodeTypeAction, IntegrationName: integration, ActionName: actionName,
		InputPorts: []string{"main"}, OutputPorts: []string{"success", "error"}, Params: params,
	}
}

// newTestService builds an ExecutionService wired with fakes/real
// in-process components — no database or Redis involved.
func newTestService(reg *action.Registry, executions *fakeExecutionStore, workflows *fakeWorkflowStore, subqueue *fakeSubQueue, maxDepth int) *ExecutionService {
	svc := &ExecutionService{
		executions:          executions,
		registry:            reg,
		driver:              graphexec.New(nodeexec.New(reg), nil),
		logger:              noopLogger{},
		maxSubWorkflowDepth:  maxDepth,
		graphs:              make(map[string]*compiler.ExecutionGraph),
	}
	if workflows != nil {
		svc.workflows = workflows
	}
	if subqueue != nil {
		svc.subqueue = subqueue
	}
	return svc
}

// compileGraph is a small wrapper matching the compiler's actionLookup
// signature against reg, for building graphs outside of ExecutionService.
func compileGraph(t *testing.T, reg *action.Registry, wf *wfmodel.Workflow) *compiler.ExecutionGraph {
	t.Helper()
	graph, err := compiler.Compile(wf, "", func(integration, act string) bool {
		_, err := reg.Get(integration, act)
		return err == nil
	})
	require.NoError(t, err)
	return graph
}

// runToSuspendedSubWorkflow drives a parent workflow (trigger -> a
// "workflow"/"sub_workflow" node configured with mode) to its
// sub_workflow suspension point, returning the graph and the suspended
// live execution.
func runToSuspendedSubWorkflow(t *testing.T, reg *action.Registry, mode string) (*compiler.ExecutionGraph, *execmodel.LiveExecution) {
	t.Helper()
	require.NoError(t, subworkflow.Register(reg))
	require.NoError(t, reg.Register(action.Descriptor{
		IntegrationName: "core", ActionName: "t", OutputPorts: []string{"success"},
		Action: echoAction{port: "success", data: map[string]interface{}{}},
	}))

	wf := buildWorkflow(t,
		[]wfmodel.Node{
			triggerNode("t"),
			actionNode("sub", "workflow", "sub_workflow", map[string]interface{}{
				"workflow_id": "child-wf",
				"mode":        mode,
				"input":       map[string]interface{}{"x": float64(1)},
			}),
		},
		[]wfmodel.Connection{{From: "t", FromPort: "success", To: "sub", ToPort: "main"}},
	)
	graph := compileGraph(t, reg, wf)

	driver := graphexec.New(nodeexec.New(reg), nil)
	p := execmodel.NewPersisted(graph.WorkflowID, graph.WorkflowVersion, "user-1", execmodel.TriggerManual, nil)
	live := execmodel.Rebuild(p, map[string]string{}, nil)

	result := driver.Run(context.Background(), graph, live, nodeexec.WorkflowRef{ID: graph.WorkflowID}, nodeexec.ExecutionRef{ID: live.Persisted.ID.String()})
	require.Equal(t, execmodel.StatusSuspended, result.Persisted.Status)
	require.NotNil(t, result.Persisted.Suspension)
	require.Equal(t, "sub_workflow", result.Persisted.Suspension.Type)

	return graph, result
}

func childWorkflow(t *testing.T, reg *action.Registry) *wfmodel.Workflow {
	t.Helper()
	require.NoError(t, reg.Register(action.Descriptor{
		IntegrationName: "core", ActionName: "child_trigger", OutputPorts: []string{"success"},
		Action: echoAction{port: "success", data: map[string]interface{}{}},
	}))
	require.NoError(t, reg.Register(action.Descriptor{
		IntegrationName: "core", ActionName: "child_echo", OutputPorts: []string{"success", "error"},
		Action: echoAction{port: "success", data: map[string]interface{}{"result": "child-done"}},
	}))
	return buildWorkflow(t,
		[]wfmodel.Node{
			{Key: "ct", Type: wfmodel.NodeTypeTrigger, IntegrationName: "core", ActionName: "child_trigger", OutputPorts: []string{"success"}},
			actionNode("ce", "core", "child_echo", nil),
		},
		[]wfmodel.Connection{{From: "ct", FromPort: "success", To: "ce", ToPort: "main"}},
	)
}

func TestSettleSubWorkflow_SyncDispatchesChildAndResumesParentWithItsOutput(t *testing.T) {
	reg := action.NewRegistry()
	graph, live := runToSuspendedSubWorkflow(t, reg, "sync")

	child := childWorkflow(t, reg)
	workflows := &fakeWorkflowStore{byID: map[wfmodel.WorkflowID]*wfmodel.Workflow{
		wfmodel.WorkflowID("child-wf"): child,
	}}
	// The sub_workflow action renders workflow_id "child-wf" as a
	// literal string, so loadAndCompile must resolve that literal
	// WorkflowID; the fake store maps the key "child-wf" to the child
	// workflow regardless of the workflow's own generated ID.
	executions := newFakeExecutionStore()

	svc := newTestService(reg, executions, workflows, nil, 10)

	settled := svc.settleSubWorkflow(context.Background(), graph, live, 0)

	require.Equal(t, execmodel.StatusCompleted, settled.Persisted.Status)
	require.Equal(t, 1, executions.savedCount(), "the sync dispatch should have triggered and saved exactly one child execution")

	subOutput, ok := settled.Persisted.OutputData["sub"].(map[string]interface{})
	require.True(t, ok, "parent's sub node should have completed with the child's output data")
	ceOutput, ok := subOutput["ce"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "child-done", ceOutput["result"])
}

func TestSettleSubWorkflow_FireAndForgetResumesParentWithoutWaitingForChild(t *testing.T) {
	reg := action.NewRegistry()
	graph, live := runToSuspendedSubWorkflow(t, reg, "fire_and_forget")

	child := childWorkflow(t, reg)
	workflows := &fakeWorkflowStore{byID: map[wfmodel.WorkflowID]*wfmodel.Workflow{
		wfmodel.WorkflowID("child-wf"): child,
	}}
	executions := newFakeExecutionStore()
	svc := newTestService(reg, executions, workflows, nil, 10)

	settled := svc.settleSubWorkflow(context.Background(), graph, live, 0)

	require.Equal(t, execmodel.StatusCompleted, settled.Persisted.Status)
	subOutput, ok := settled.Persisted.OutputData["sub"].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, subOutput, "fire_and_forget resumes with an empty payload, not the child's eventual output")
}

func TestSettleSubWorkflow_AsyncEnqueuesJobAndLeavesParentSuspended(t *testing.T) {
	reg := action.NewRegistry()
	graph, live := runToSuspendedSubWorkflow(t, reg, "async")

	executions := newFakeExecutionStore()
	subqueue := &fakeSubQueue{}
	svc := newTestService(reg, executions, nil, subqueue, 10)

	settled := svc.settleSubWorkflow(context.Background(), graph, live, 0)

	require.Equal(t, execmodel.StatusSuspended, settled.Persisted.Status, "async dispatch leaves the parent suspended until the child settles")
	require.Len(t, subqueue.enqueued(), 1)
	job := subqueue.enqueued()[0]
	assert.Equal(t, "child-wf", job.WorkflowID)
	assert.Equal(t, live.Persisted.ID.String(), job.ParentExecutionID)
	assert.Equal(t, "sub", job.ParentNodeKey)
	assert.Equal(t, 1, settled.Persisted.Metadata["subworkflow_depth"])
}

func TestSettleSubWorkflow_MaxDepthFailsExecutionInsteadOfDispatching(t *testing.T) {
	reg := action.NewRegistry()
	graph, live := runToSuspendedSubWorkflow(t, reg, "sync")

	executions := newFakeExecutionStore()
	svc := newTestService(reg, executions, &fakeWorkflowStore{byID: map[wfmodel.WorkflowID]*wfmodel.Workflow{}}, nil, 1)

	settled := svc.settleSubWorkflow(context.Background(), graph, live, 1)

	require.Equal(t, execmodel.StatusFailed, settled.Persisted.Status)
	require.NotNil(t, settled.Persisted.Error)
	assert.Equal(t, ErrMaxSubWorkflowDepth.Error(), settled.Persisted.Error.Message)
	assert.Equal(t, 0, executions.savedCount(), "depth limit should short-circuit before any child dispatch")
}

func TestDueForResumption_ReturnsIDsFromThePendingResumptionQuery(t *testing.T) {
	executions := newFakeExecutionStore()
	executions.pending = []*execmodel.PersistedExecution{
		{ID: execmodel.ExecutionID("exec-a")},
		{ID: execmodel.ExecutionID("exec-b")},
	}
	svc := newTestService(action.NewRegistry(), executions, nil, nil, 10)

	ids, err := svc.DueForResumption(context.Background(), "interval", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-a", "exec-b"}, ids)
}
