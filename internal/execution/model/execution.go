// Package model holds the runtime types of one Execution: a run of an
// ExecutionGraph, its per-node NodeExecutions, loop state, and
// suspension slot (spec §4.1/§4.6).
//
// Execution state is deliberately split in two, per the redesign note
// in spec §9 ("source merges persisted and runtime state in one struct
// with a special ephemeral slot"): PersistedExecution is the
// serializable record a repository stores; LiveExecution additionally
// carries the attached ExecutionGraph and the runtime state rebuilt
// from node_executions on load. The runtime portion MUST NOT be
// persisted — Rebuild derives it fresh every time.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionID uniquely identifies one Execution.
type ExecutionID string

// NewExecutionID mints a random ExecutionID.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.New().String())
}

func (id ExecutionID) String() string { return string(id) }

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// TriggerType records how an Execution started.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerAPI      TriggerType = "api"
	TriggerEvent    TriggerType = "event"
)

// NodeExecutionStatus is the per-node-run outcome.
type NodeExecutionStatus string

const (
	NodeExecStatusPending   NodeExecutionStatus = "pending"
	NodeExecStatusRunning   NodeExecutionStatus = "running"
	NodeExecStatusCompleted NodeExecutionStatus = "completed"
	NodeExecStatusFailed    NodeExecutionStatus = "failed"
	NodeExecStatusSuspended NodeExecutionStatus = "suspended"
)

// NodeExecution records one attempt to run a node (spec §4.1). A node
// with retries accumulates multiple NodeExecutions sharing NodeKey with
// increasing RunIndex.
type NodeExecution struct {
	NodeKey         string
	Status          NodeExecutionStatus
	OutputData      interface{}
	OutputPort      string // empty for failed/suspended
	ErrorData       *StructuredError
	SuspensionType  string
	SuspensionData  interface{}
	StartedAt       time.Time
	CompletedAt     *time.Time
	ExecutionIndex  int // global, across the whole Execution
	RunIndex        int // per-node iteration, 0-based
}

// StructuredError is the JSON-serializable error shape of spec §4.4.
type StructuredError struct {
	Kind        string                 `json:"kind"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	NodeKey     string                 `json:"node_key"`
	ExecutionID string                 `json:"execution_id"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Error kinds (spec §4.4).
const (
	ErrorKindActionError     = "action_error"
	ErrorKindActionException = "action_exception"
	ErrorKindInvalidPort     = "invalid_port"
	ErrorKindTimeout         = "timeout"
	ErrorKindMissingAction   = "missing_action"
	ErrorKindRenderError     = "render_error"
	ErrorKindUnsafeCycle     = "unsafe_cycle"
)

// Suspension is the typed payload recorded when the driver yields
// control back to a host mid-execution (spec §4.6).
type Suspension struct {
	NodeKey     string
	Type        string // webhook | interval | schedule | sub_workflow | retry
	Data        interface{}
	SuspendedAt time.Time
}

// LoopState tracks one active "safe simple loop" (spec §4.5/§4.6).
type LoopState struct {
	LoopID             string
	Nodes              []string
	CurrentIteration   int
	TerminationNodeKey string
	CreatedAt          time.Time
	MaxIterations      int   // default 10
	LoopTimeoutMs      int64 // default 60000

	// Terminated is set once the termination node emits its "false"
	// port. Kept (rather than deleting the LoopState) so a later
	// ready-node check can distinguish "loop never started" — where the
	// body is still a plain not-yet-run candidate — from "loop already
	// ran to completion", where it must stay excluded.
	Terminated bool
}

const (
	DefaultMaxIterations = 10
	DefaultLoopTimeoutMs = 60_000
)

// ShouldContinue reports whether L may still admit another iteration:
// not terminated, below its iteration cap, and within its wall-clock
// budget.
func (l *LoopState) ShouldContinue(now time.Time) bool {
	if l.Terminated {
		return false
	}
	if l.CurrentIteration >= l.MaxIterations {
		return false
	}
	return now.Sub(l.CreatedAt).Milliseconds() <= l.LoopTimeoutMs
}

// PersistedExecution is the serializable record a repository stores:
// only the non-runtime portion of Execution named in spec §4.6 ("id,
// workflow_id, status, started_at, completed_at,
// current_execution_index, node_executions, suspension, variables,
// vars, preparation_data, metadata").
type PersistedExecution struct {
	ID                     ExecutionID
	WorkflowID             string
	WorkflowVersion        int
	UserID                 string
	TriggerType            TriggerType
	TriggerID              string
	Status                 Status
	InputData              map[string]interface{}
	OutputData             map[string]interface{}
	Vars                   map[string]interface{}
	PreparationData        map[string]interface{}
	NodeExecutions         []NodeExecution
	Suspension             *Suspension
	CurrentExecutionIndex  int
	Error                  *StructuredError
	StartedAt              *time.Time
	CompletedAt            *time.Time
	Metadata               map[string]interface{}
	CreatedAt              time.Time
	UpdatedAt              time.Time
	Version                int
}

// RuntimeNodeState is the last recorded output of a node, used by the
// template renderer's `$nodes` context mapping.
type RuntimeNodeState struct {
	Output  interface{}
	Context map[string]interface{}
}

// Runtime is the derived, non-persisted portion of an Execution,
// rebuilt from PersistedExecution.NodeExecutions + host-supplied env on
// every load (spec §4.6 invariant: "the runtime portion of Execution
// MUST NOT be persisted").
type Runtime struct {
	Nodes         map[string]RuntimeNodeState
	ActivePaths   map[string]bool // "node_key.port" pairs
	ExecutedNodes []string
	LoopState     map[string]*LoopState // by loop_id
	Env           map[string]string
}

func newRuntime(env map[string]string) *Runtime {
	return &Runtime{
		Nodes:       make(map[string]RuntimeNodeState),
		ActivePaths: make(map[string]bool),
		LoopState:   make(map[string]*LoopState),
		Env:         env,
	}
}

// ActivePathKey builds the "node_key.port" key used by ActivePaths.
func ActivePathKey(nodeKey, port string) string {
	return nodeKey + "." + port
}

// LiveExecution is a PersistedExecution with its ExecutionGraph
// attached and Runtime rebuilt, ready to be driven by the graph
// executor.
type LiveExecution struct {
	Persisted *PersistedExecution
	Runtime   *Runtime
}

// Rebuild reconstructs a LiveExecution's runtime state from its
// persisted node_executions plus host-supplied env, per spec §4.6's
// rebuild_runtime(node_executions, env) == runtime invariant. loopInfo
// supplies the compile-time loop metadata (membership, termination
// node) the runtime loop state is keyed against; it comes from the
// ExecutionGraph the host attaches alongside this call.
func Rebuild(persisted *PersistedExecution, env map[string]string, loopInfo []LoopInfo) *LiveExecution {
	rt := newRuntime(env)

	nodeToLoop := make(map[string]*LoopInfo, len(loopInfo))
	for i := range loopInfo {
		li := &loopInfo[i]
		for _, n := range li.Nodes {
			nodeToLoop[n] = li
		}
	}

	for i := range persisted.NodeExecutions {
		ne := &persisted.NodeExecutions[i]
		rt.ExecutedNodes = append(rt.ExecutedNodes, ne.NodeKey)

		if ne.Status == NodeExecStatusCompleted {
			rt.Nodes[ne.NodeKey] = RuntimeNodeState{Output: ne.OutputData}
			rt.ActivePaths[ActivePathKey(ne.NodeKey, ne.OutputPort)] = true
		}

		li, inLoop := nodeToLoop[ne.NodeKey]
		if !inLoop {
			continue
		}
		ls, exists := rt.LoopState[li.LoopID]
		if !exists {
			ls = &LoopState{
				LoopID:              li.LoopID,
				Nodes:               li.Nodes,
				TerminationNodeKey:  li.TerminationNodeKey,
				CreatedAt:           ne.StartedAt,
				MaxIterations:       li.MaxIterations,
				LoopTimeoutMs:       li.LoopTimeoutMs,
			}
			rt.LoopState[li.LoopID] = ls
		}
		if ne.NodeKey == li.TerminationNodeKey && ne.Status == NodeExecStatusCompleted {
			ls.CurrentIteration++
		}
	}

	return &LiveExecution{Persisted: persisted, Runtime: rt}
}

// LoopInfo is the compile-time description of a safe simple loop a
// LiveExecution's runtime loop state is rebuilt against.
type LoopInfo struct {
	LoopID             string
	Nodes              []string
	TerminationNodeKey string
	MaxIterations      int
	LoopTimeoutMs      int64
}

// NewPersisted constructs a fresh PersistedExecution in StatusPending.
func NewPersisted(workflowID string, workflowVersion int, userID string, trigger TriggerType, input map[string]interface{}) *PersistedExecution {
	now := time.Now()
	return &PersistedExecution{
		ID:              NewExecutionID(),
		WorkflowID:      workflowID,
		WorkflowVersion: workflowVersion,
		UserID:          userID,
		TriggerType:     trigger,
		Status:          StatusPending,
		InputData:       input,
		OutputData:      make(map[string]interface{}),
		Vars:            make(map[string]interface{}),
		PreparationData: make(map[string]interface{}),
		Metadata:        make(map[string]interface{}),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Start transitions Pending -> Running.
func (p *PersistedExecution) Start() {
	now := time.Now()
	p.Status = StatusRunning
	p.StartedAt = &now
	p.UpdatedAt = now
	p.Version++
}

// Complete transitions Running -> Completed.
func (p *PersistedExecution) Complete(output map[string]interface{}) {
	now := time.Now()
	p.Status = StatusCompleted
	p.OutputData = output
	p.CompletedAt = &now
	p.Suspension = nil
	p.UpdatedAt = now
	p.Version++
}

// Fail transitions to Failed, recording the terminal error.
func (p *PersistedExecution) Fail(err StructuredError) {
	now := time.Now()
	p.Status = StatusFailed
	p.Error = &err
	p.CompletedAt = &now
	p.Suspension = nil
	p.UpdatedAt = now
	p.Version++
}

// Suspend transitions to Suspended, recording where and why.
func (p *PersistedExecution) Suspend(s Suspension) {
	p.Status = StatusSuspended
	p.Suspension = &s
	p.UpdatedAt = time.Now()
	p.Version++
}

// AppendNodeExecution records a new node attempt and advances the
// global execution index.
func (p *PersistedExecution) AppendNodeExecution(ne NodeExecution) {
	ne.ExecutionIndex = p.CurrentExecutionIndex
	p.CurrentExecutionIndex++
	p.NodeExecutions = append(p.NodeExecutions, ne)
	p.UpdatedAt = time.Now()
	p.Version++
}
