// Package service implements the application-level operations on
// Executions: triggering a workflow run, resuming a suspended one
// (including the sub-workflow dispatch special case), and serving
// reads. Grounded on
// internal/execution/app/service/execution_service.go's
// repository+cache+logger wiring and StartExecution/GetExecution
// shape, filled in with the actual compiler/nodeexec/graphexec pipeline
// the teacher's version only stubs with a time.Sleep simulation.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prana-run/prana/internal/action"
	"github.com/prana-run/prana/internal/actions/subworkflow"
	"github.com/prana-run/prana/internal/compiler"
	"github.com/prana-run/prana/internal/execution/graphexec"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/execution/nodeexec"
	"github.com/prana-run/prana/internal/platform/cache"
	"github.com/prana-run/prana/internal/platform/logger"
	"github.com/prana-run/prana/internal/platform/queue"
	"github.com/prana-run/prana/internal/repo"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

var (
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrMaxSubWorkflowDepth = errors.New("maximum sub-workflow nesting depth exceeded")
)

// executionStore is the persistence surface ExecutionService needs for
// PersistedExecution records. *repo.ExecutionRepository satisfies this
// implicitly; defining it here (rather than depending on that concrete
// type directly) lets tests substitute an in-memory fake instead of a
// real database.
type executionStore interface {
	Save(ctx context.Context, e *execmodel.PersistedExecution) error
	Update(ctx context.Context, e *execmodel.PersistedExecution) error
	FindByID(ctx context.Context, id execmodel.ExecutionID) (*execmodel.PersistedExecution, error)
	FindByWorkflowID(ctx context.Context, workflowID string, offset, limit int) ([]*execmodel.PersistedExecution, error)
	FindPendingResumption(ctx context.Context, suspensionType string, limit int) ([]*execmodel.PersistedExecution, error)
}

// workflowStore is the read surface ExecutionService needs to load the
// workflow being compiled. *repo.WorkflowRepository satisfies this.
type workflowStore interface {
	FindByID(ctx context.Context, id wfmodel.WorkflowID) (*wfmodel.Workflow, error)
}

// resultCache is the cache-aside surface GetExecution consults.
// *cache.RedisCache satisfies this.
type resultCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// subWorkflowQueue is the async-dispatch surface the "async" sub-workflow
// mode enqueues onto. *queue.Queue satisfies this.
type subWorkflowQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// ExecutionService drives workflow runs end to end: compile (cached),
// run, persist, and — on a sub_workflow suspension — dispatch the
// nested run and resume the parent with its result.
type ExecutionService struct {
	executions executionStore
	workflows  workflowStore
	registry   *action.Registry
	driver     *graphexec.Driver
	cache      resultCache
	subqueue   subWorkflowQueue
	logger     logger.Logger

	maxSubWorkflowDepth int

	graphsMu sync.RWMutex
	graphs   map[string]*compiler.ExecutionGraph
}

// NewExecutionService wires an ExecutionService.
func NewExecutionService(
	executions *repo.ExecutionRepository,
	workflows *repo.WorkflowRepository,
	registry *action.Registry,
	driver *graphexec.Driver,
	c *cache.RedisCache,
	subqueue *queue.Queue,
	log logger.Logger,
	maxSubWorkflowDepth int,
) *ExecutionService {
	if maxSubWorkflowDepth <= 0 {
		maxSubWorkflowDepth = 10
	}
	es := &ExecutionService{
		executions:          executions,
		workflows:           workflows,
		registry:            registry,
		driver:              driver,
		logger:              log,
		maxSubWorkflowDepth: maxSubWorkflowDepth,
		graphs:              make(map[string]*compiler.ExecutionGraph),
	}
	// Assigned through a nil check rather than directly, so a nil
	// *cache.RedisCache/*queue.Queue becomes a true nil interface
	// instead of a non-nil interface wrapping a nil pointer — the
	// "cache != nil"/"subqueue != nil" checks below depend on that.
	if c != nil {
		es.cache = c
	}
	if subqueue != nil {
		es.subqueue = subqueue
	}
	return es
}

// TriggerCommand starts a new Execution of a workflow.
type TriggerCommand struct {
	WorkflowID     string
	TriggerNodeKey string // optional, pins a specific trigger node
	UserID         string
	TriggerType    execmodel.TriggerType
	TriggerID      string
	Input          map[string]interface{}
}

// Trigger compiles wf (cache-aside) and drives a new Execution to
// completion, failure, or suspension — the top-level entry for manual/
// API/webhook/schedule-triggered runs (spec §4.6's run_workflow).
func (s *ExecutionService) Trigger(ctx context.Context, cmd TriggerCommand) (*execmodel.PersistedExecution, error) {
	wf, graph, err := s.loadAndCompile(ctx, wfmodel.WorkflowID(cmd.WorkflowID), cmd.TriggerNodeKey)
	if err != nil {
		return nil, err
	}

	persisted := execmodel.NewPersisted(wf.ID().String(), wf.Version(), cmd.UserID, cmd.TriggerType, cmd.Input)
	persisted.TriggerID = cmd.TriggerID

	live := execmodel.Rebuild(persisted, map[string]string{}, loopInfo(graph))
	live = s.runToSettled(ctx, graph, live, 0)

	if err := s.executions.Save(ctx, live.Persisted); err != nil {
		return nil, fmt.Errorf("saving execution: %w", err)
	}
	s.invalidateCache(ctx, live.Persisted.ID)

	return live.Persisted, nil
}

// Resume continues a suspended Execution with resumeInput — the path a
// webhook delivery, a due wait/retry sweep, or a settled sub-workflow
// dispatch all funnel through.
func (s *ExecutionService) Resume(ctx context.Context, executionID execmodel.ExecutionID, resumeInput map[string]interface{}) (*execmodel.PersistedExecution, error) {
	persisted, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("getting execution: %w", err)
	}
	if persisted.Status != execmodel.StatusSuspended {
		return persisted, nil
	}

	_, graph, err := s.loadAndCompile(ctx, wfmodel.WorkflowID(persisted.WorkflowID), "")
	if err != nil {
		return nil, err
	}

	live := execmodel.Rebuild(persisted, map[string]string{}, loopInfo(graph))
	depth, _ := live.Persisted.Metadata["subworkflow_depth"].(int)
	live = s.resumeToSettled(ctx, graph, live, resumeInput, depth)

	if err := s.executions.Update(ctx, live.Persisted); err != nil {
		return nil, fmt.Errorf("updating execution: %w", err)
	}
	s.invalidateCache(ctx, live.Persisted.ID)

	return live.Persisted, nil
}

// GetExecution reads an execution cache-aside.
func (s *ExecutionService) GetExecution(ctx context.Context, id execmodel.ExecutionID) (*execmodel.PersistedExecution, error) {
	if s.cache != nil {
		var cached execmodel.PersistedExecution
		if err := s.cache.Get(ctx, cacheKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	persisted, err := s.executions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("getting execution: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey(id), persisted, 30*time.Second)
	}
	return persisted, nil
}

// ListExecutions pages a workflow's execution history.
func (s *ExecutionService) ListExecutions(ctx context.Context, workflowID string, offset, limit int) ([]*execmodel.PersistedExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := s.executions.FindByWorkflowID(ctx, workflowID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return out, nil
}

// DueForResumption returns executions whose suspension (of the given
// type) is ready to be swept and resumed, for scheduler.ResumeSweeper.
func (s *ExecutionService) DueForResumption(ctx context.Context, suspensionType string, limit int) ([]string, error) {
	executions, err := s.executions.FindPendingResumption(ctx, suspensionType, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending resumptions: %w", err)
	}
	ids := make([]string, 0, len(executions))
	for _, e := range executions {
		ids = append(ids, e.ID.String())
	}
	return ids, nil
}

// runToSettled drives live via the graph executor, transparently
// handling a sub_workflow suspension by dispatching the nested run
// in-line and resuming the parent before returning to the caller —
// from the outside, Trigger/Resume only ever return a settled (or
// genuinely host-facing-suspended) Execution.
func (s *ExecutionService) runToSettled(ctx context.Context, graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, depth int) *execmodel.LiveExecution {
	wfRef := nodeexec.WorkflowRef{ID: graph.WorkflowID, Version: graph.WorkflowVersion}
	execRef := nodeexec.ExecutionRef{ID: live.Persisted.ID.String(), Mode: string(live.Persisted.TriggerType), Preparation: map[string]interface{}{}}

	live = s.driver.Run(ctx, graph, live, wfRef, execRef)
	return s.settleSubWorkflow(ctx, graph, live, depth)
}

func (s *ExecutionService) resumeToSettled(ctx context.Context, graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, resumeInput map[string]interface{}, depth int) *execmodel.LiveExecution {
	wfRef := nodeexec.WorkflowRef{ID: graph.WorkflowID, Version: graph.WorkflowVersion}
	execRef := nodeexec.ExecutionRef{ID: live.Persisted.ID.String(), Mode: string(live.Persisted.TriggerType), Preparation: map[string]interface{}{}}

	live = s.driver.Resume(ctx, graph, live, wfRef, execRef, resumeInput)
	return s.settleSubWorkflow(ctx, graph, live, depth)
}

// settleSubWorkflow inspects a freshly-suspended live.Persisted.Suspension
// for the "sub_workflow" type and, if present, dispatches per the
// action's requested mode (spec §4.6 sub-workflow dispatch):
//
//	sync           — run the nested workflow now, resume with its output
//	fire_and_forget — run it in a detached goroutine and resume the
//	                  parent immediately
//	async          — enqueue it; the parent stays suspended until the
//	                  dispatcher resumes it once the nested run settles
func (s *ExecutionService) settleSubWorkflow(ctx context.Context, graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, depth int) *execmodel.LiveExecution {
	if live.Persisted.Status != execmodel.StatusSuspended || live.Persisted.Suspension == nil {
		return live
	}
	if live.Persisted.Suspension.Type != "sub_workflow" {
		return live
	}

	data, ok := live.Persisted.Suspension.Data.(subworkflow.SuspendData)
	if !ok {
		live.Persisted.Fail(execmodel.StructuredError{
			Kind:        execmodel.ErrorKindActionException,
			Message:     "sub_workflow suspension carried an unrecognized payload",
			NodeKey:     live.Persisted.Suspension.NodeKey,
			ExecutionID: live.Persisted.ID.String(),
			Timestamp:   time.Now(),
		})
		return live
	}

	if depth+1 > s.maxSubWorkflowDepth {
		live.Persisted.Fail(execmodel.StructuredError{
			Kind:        execmodel.ErrorKindActionException,
			Message:     ErrMaxSubWorkflowDepth.Error(),
			NodeKey:     live.Persisted.Suspension.NodeKey,
			ExecutionID: live.Persisted.ID.String(),
			Timestamp:   time.Now(),
		})
		return live
	}

	switch data.Mode {
	case "fire_and_forget":
		s.dispatchAsync(data)
		return s.resumeToSettled(ctx, graph, live, map[string]interface{}{}, depth)

	case "async":
		if s.subqueue != nil {
			_ = s.subqueue.Enqueue(ctx, &queue.Job{
				ParentExecutionID: live.Persisted.ID.String(),
				ParentNodeKey:     live.Persisted.Suspension.NodeKey,
				WorkflowID:        data.WorkflowID,
				Input:             data.Input,
			})
		}
		if live.Persisted.Metadata == nil {
			live.Persisted.Metadata = make(map[string]interface{})
		}
		live.Persisted.Metadata["subworkflow_depth"] = depth + 1
		return live // stays suspended; async dispatcher resumes it later

	default: // sync
		child, err := s.Trigger(ctx, TriggerCommand{
			WorkflowID:  data.WorkflowID,
			UserID:      live.Persisted.UserID,
			TriggerType: execmodel.TriggerAPI,
			Input:       data.Input,
		})
		resumeInput := subworkflowResumeInput(child, err)
		return s.resumeToSettled(ctx, graph, live, resumeInput, depth)
	}
}

// dispatchAsync runs a fire-and-forget child in its own goroutine,
// detached from the parent's request context.
func (s *ExecutionService) dispatchAsync(data subworkflow.SuspendData) {
	go func() {
		_, err := s.Trigger(context.Background(), TriggerCommand{
			WorkflowID:  data.WorkflowID,
			TriggerType: execmodel.TriggerAPI,
			Input:       data.Input,
		})
		if err != nil {
			s.logger.Error("fire_and_forget sub-workflow dispatch failed", "workflow_id", data.WorkflowID, "error", err)
		}
	}()
}

func subworkflowResumeInput(child *execmodel.PersistedExecution, err error) map[string]interface{} {
	if err != nil {
		return map[string]interface{}{"__failed": true, "__error": err.Error()}
	}
	if child.Status == execmodel.StatusFailed {
		msg := ""
		if child.Error != nil {
			msg = child.Error.Message
		}
		return map[string]interface{}{"__failed": true, "__error": msg}
	}
	return child.OutputData
}

// loadAndCompile loads the workflow and returns its compiled graph,
// consulting the in-process compile cache first.
func (s *ExecutionService) loadAndCompile(ctx context.Context, workflowID wfmodel.WorkflowID, triggerNodeKey string) (*wfmodel.Workflow, *compiler.ExecutionGraph, error) {
	wf, err := s.workflows.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrWorkflowNotFound
		}
		return nil, nil, fmt.Errorf("getting workflow: %w", err)
	}

	key := graphCacheKey(wf.ID().String(), wf.Version(), triggerNodeKey)
	s.graphsMu.RLock()
	graph, ok := s.graphs[key]
	s.graphsMu.RUnlock()
	if ok {
		return wf, graph, nil
	}

	graph, err = compiler.Compile(wf, triggerNodeKey, s.actionLookup)
	if err != nil {
		return nil, nil, fmt.Errorf("compiling workflow: %w", err)
	}

	s.graphsMu.Lock()
	s.graphs[key] = graph
	s.graphsMu.Unlock()

	return wf, graph, nil
}

func (s *ExecutionService) actionLookup(integrationName, actionName string) bool {
	_, err := s.registry.Get(integrationName, actionName)
	return err == nil
}

func (s *ExecutionService) invalidateCache(ctx context.Context, id execmodel.ExecutionID) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, cacheKey(id))
}

func cacheKey(id execmodel.ExecutionID) string {
	return fmt.Sprintf("execution:%s", id)
}

func graphCacheKey(workflowID string, version int, triggerNodeKey string) string {
	return fmt.Sprintf("%s:%d:%s", workflowID, version, triggerNodeKey)
}

func loopInfo(graph *compiler.ExecutionGraph) []execmodel.LoopInfo {
	out := make([]execmodel.LoopInfo, 0, len(graph.Loops))
	for _, l := range graph.Loops {
		out = append(out, execmodel.LoopInfo{
			LoopID:             l.LoopID,
			Nodes:              l.Nodes,
			TerminationNodeKey: l.TerminationNodeKey,
			MaxIterations:      execmodel.DefaultMaxIterations,
			LoopTimeoutMs:      execmodel.DefaultLoopTimeoutMs,
		})
	}
	return out
}
