// Package graphexec implements the Graph Executor (spec §4.6): the
// single-threaded cooperative driver that, given a compiled
// ExecutionGraph and a LiveExecution, repeatedly selects the next ready
// node, routes its input, runs it through the NodeExecutor, and applies
// the result until the Execution completes, fails, or suspends.
package graphexec

import (
	"context"
	"time"

	"github.com/prana-run/prana/internal/compiler"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/execution/nodeexec"
	"github.com/prana-run/prana/internal/middleware"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

// Driver runs one Execution against its ExecutionGraph, one node per
// step. No intra-execution parallelism: only the driver touches the
// Execution, so it needs no locking of its own (spec §5).
type Driver struct {
	nodes    *nodeexec.Executor
	pipeline *middleware.Pipeline
}

// New constructs a Driver. A nil pipeline gets a no-op one.
func New(nodes *nodeexec.Executor, pipeline *middleware.Pipeline) *Driver {
	if pipeline == nil {
		pipeline = middleware.NewPipeline(nil)
	}
	return &Driver{nodes: nodes, pipeline: pipeline}
}

// Run drives live to completion, failure, or suspension and returns it.
func (d *Driver) Run(ctx context.Context, graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, wf nodeexec.WorkflowRef, exec nodeexec.ExecutionRef) *execmodel.LiveExecution {
	if live.Persisted.Status == execmodel.StatusPending {
		live.Persisted.Start()
		d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionStarted, Subject: live.Persisted, Data: map[string]interface{}{}})
	}

	for {
		select {
		case <-ctx.Done():
			live.Persisted.Fail(execmodel.StructuredError{
				Kind:        execmodel.ErrorKindActionException,
				Message:     ctx.Err().Error(),
				ExecutionID: live.Persisted.ID.String(),
				Timestamp:   time.Now(),
			})
			d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionFailed, Subject: live.Persisted, Data: map[string]interface{}{"reason": ctx.Err()}})
			return live
		default:
		}

		node, ok := d.selectReady(graph, live)
		if !ok {
			d.finish(graph, live)
			return live
		}

		if d.step(ctx, graph, live, node, wf, exec) {
			return live // suspended
		}
		if live.Persisted.Status == execmodel.StatusFailed {
			d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionFailed, Subject: live.Persisted, Data: map[string]interface{}{"reason": live.Persisted.Error}})
			return live
		}
	}
}

// Resume continues a suspended Execution with resumeInput, per spec
// §4.6's resume_workflow.
func (d *Driver) Resume(ctx context.Context, graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, wf nodeexec.WorkflowRef, exec nodeexec.ExecutionRef, resumeInput map[string]interface{}) *execmodel.LiveExecution {
	if live.Persisted.Status != execmodel.StatusSuspended {
		return live
	}
	suspension := live.Persisted.Suspension
	node := graph.Nodes[suspension.NodeKey]

	suspendedNE, ok := latestFor(live, suspension.NodeKey, execmodel.NodeExecStatusSuspended)
	if !ok {
		live.Persisted.Fail(execmodel.StructuredError{
			Kind:        execmodel.ErrorKindActionException,
			Message:     "no suspended node_execution found to resume",
			NodeKey:     suspension.NodeKey,
			ExecutionID: live.Persisted.ID.String(),
			Timestamp:   time.Now(),
		})
		return live
	}

	// A retry suspension runs the node again as a new NodeExecution
	// (run_index + 1) instead of calling the action's Resume.
	if suspension.Type == "retry" {
		live.Persisted.Status = execmodel.StatusRunning
		if d.step(ctx, graph, live, node, wf, exec) {
			return live
		}
		if live.Persisted.Status == execmodel.StatusFailed {
			d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionFailed, Subject: live.Persisted, Data: map[string]interface{}{"reason": live.Persisted.Error}})
			return live
		}
		return d.Run(ctx, graph, live, wf, exec)
	}

	ne := d.nodes.Resume(ctx, node, *suspendedNE, resumeInput)
	live.Persisted.Status = execmodel.StatusRunning

	switch ne.Status {
	case execmodel.NodeExecStatusCompleted:
		live.Persisted.AppendNodeExecution(ne)
		applyCompletion(graph, live, node, ne)
		d.pipeline.Emit(middleware.Event{Type: middleware.EventNodeCompleted, Subject: node, Data: map[string]interface{}{"node_execution": ne, "execution_id": live.Persisted.ID.String()}})
	case execmodel.NodeExecStatusSuspended:
		live.Persisted.AppendNodeExecution(ne)
		live.Persisted.Suspend(execmodel.Suspension{NodeKey: node.Key, Type: ne.SuspensionType, Data: ne.SuspensionData, SuspendedAt: time.Now()})
		d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionSuspended, Subject: live.Persisted, Data: map[string]interface{}{"suspension": live.Persisted.Suspension}})
		return live
	default:
		live.Persisted.AppendNodeExecution(ne)
		if d.handleFailure(graph, live, node, ne) {
			return live
		}
	}

	return d.Run(ctx, graph, live, wf, exec)
}

// finish transitions a Running Execution with no more ready nodes to
// Completed (spec §4.6's completion detection: unconsumed failures
// already short-circuited the loop before reaching here).
func (d *Driver) finish(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution) {
	if live.Persisted.Status != execmodel.StatusRunning {
		return
	}
	live.Persisted.Complete(finalOutput(graph, live))
	d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionCompleted, Subject: live.Persisted, Data: map[string]interface{}{}})
}

// finalOutput collects the output of every node that completed but has
// no successor connection leaving the port it completed on — the
// graph's terminal outputs.
func finalOutput(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution) map[string]interface{} {
	out := make(map[string]interface{})
	for key, state := range live.Runtime.Nodes {
		if terminal(graph, live, key) {
			out[key] = state.Output
		}
	}
	return out
}

// terminal reports whether key's currently-active completed output port
// has no outgoing connection — i.e. it is a leaf of this run.
func terminal(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, key string) bool {
	ne, ok := latestFor(live, key, execmodel.NodeExecStatusCompleted)
	if !ok {
		return false
	}
	return !graph.HasOutgoingConnection(key, ne.OutputPort)
}

// step runs node once and applies its result, returning true iff the
// Execution suspended.
func (d *Driver) step(ctx context.Context, graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, node wfmodel.Node, wf nodeexec.WorkflowRef, exec nodeexec.ExecutionRef) bool {
	routedInput := routeInput(graph, live, node)
	runIndex := nextRunIndex(live, node.Key)
	execIndex := live.Persisted.CurrentExecutionIndex

	d.pipeline.Emit(middleware.Event{Type: middleware.EventNodeStarted, Subject: node, Data: map[string]interface{}{"input": routedInput, "execution_id": live.Persisted.ID.String()}})

	ne := d.nodes.Execute(ctx, node, routedInput, live, wf, exec, execIndex, runIndex)

	switch ne.Status {
	case execmodel.NodeExecStatusCompleted:
		live.Persisted.AppendNodeExecution(ne)
		applyCompletion(graph, live, node, ne)
		d.pipeline.Emit(middleware.Event{Type: middleware.EventNodeCompleted, Subject: node, Data: map[string]interface{}{"node_execution": ne, "execution_id": live.Persisted.ID.String()}})
		return false

	case execmodel.NodeExecStatusSuspended:
		live.Persisted.AppendNodeExecution(ne)
		live.Persisted.Suspend(execmodel.Suspension{NodeKey: node.Key, Type: ne.SuspensionType, Data: ne.SuspensionData, SuspendedAt: time.Now()})
		d.pipeline.Emit(middleware.Event{Type: middleware.EventExecutionSuspended, Subject: live.Persisted, Data: map[string]interface{}{"suspension": live.Persisted.Suspension}})
		return true

	default: // failed
		live.Persisted.AppendNodeExecution(ne)
		d.pipeline.Emit(middleware.Event{Type: middleware.EventNodeFailed, Subject: node, Data: map[string]interface{}{"node_execution": ne, "execution_id": live.Persisted.ID.String()}})
		d.handleFailure(graph, live, node, ne)
		return false
	}
}

// handleFailure implements spec §4.6's failure rule: route to a
// connected "error" port as a completed error emission, else fail the
// whole Execution. Returns true iff the Execution was failed.
func (d *Driver) handleFailure(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, node wfmodel.Node, ne execmodel.NodeExecution) bool {
	if node.HasOutputPort("error") && graph.HasOutgoingConnection(node.Key, "error") {
		live.Runtime.Nodes[node.Key] = execmodel.RuntimeNodeState{Output: errorData(ne)}
		live.Runtime.ActivePaths[execmodel.ActivePathKey(node.Key, "error")] = true
		live.Runtime.ExecutedNodes = append(live.Runtime.ExecutedNodes, node.Key)
		return false
	}

	var errData execmodel.StructuredError
	if ne.ErrorData != nil {
		errData = *ne.ErrorData
	}
	live.Persisted.Fail(errData)
	return true
}

func errorData(ne execmodel.NodeExecution) interface{} {
	if ne.ErrorData == nil {
		return nil
	}
	return map[string]interface{}{
		"kind":    ne.ErrorData.Kind,
		"message": ne.ErrorData.Message,
		"details": ne.ErrorData.Details,
	}
}

// applyCompletion folds a completed NodeExecution into Runtime state:
// last output, active path, executed-node trail, and loop bookkeeping.
func applyCompletion(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, node wfmodel.Node, ne execmodel.NodeExecution) {
	live.Runtime.Nodes[node.Key] = execmodel.RuntimeNodeState{Output: ne.OutputData}
	live.Runtime.ActivePaths[execmodel.ActivePathKey(node.Key, ne.OutputPort)] = true
	live.Runtime.ExecutedNodes = append(live.Runtime.ExecutedNodes, node.Key)

	loopID, inLoop := loopOf(graph, node.Key)
	if !inLoop {
		return
	}
	ls := ensureLoopState(graph, live, loopID)
	if node.Key != ls.TerminationNodeKey {
		return
	}
	ls.CurrentIteration++
	if ne.OutputPort == "false" {
		ls.Terminated = true
	}
}

func ensureLoopState(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, loopID string) *execmodel.LoopState {
	if ls, ok := live.Runtime.LoopState[loopID]; ok {
		return ls
	}
	var info compiler.LoopInfo
	for _, l := range graph.Loops {
		if l.LoopID == loopID {
			info = l
			break
		}
	}
	ls := &execmodel.LoopState{
		LoopID:             loopID,
		Nodes:              info.Nodes,
		TerminationNodeKey: info.TerminationNodeKey,
		CreatedAt:          time.Now(),
		MaxIterations:      execmodel.DefaultMaxIterations,
		LoopTimeoutMs:      execmodel.DefaultLoopTimeoutMs,
	}
	live.Runtime.LoopState[loopID] = ls
	return ls
}

func loopOf(graph *compiler.ExecutionGraph, nodeKey string) (string, bool) {
	for _, l := range graph.Loops {
		for _, n := range l.Nodes {
			if n == nodeKey {
				return l.LoopID, true
			}
		}
	}
	return "", false
}

// selectReady implements spec §4.6's ready-node selection algorithm.
func (d *Driver) selectReady(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution) (wfmodel.Node, bool) {
	now := time.Now()
	latest := latestStatusByNode(live)

	var candidates []string
	for _, key := range graph.NodeOrder() {
		if !shouldExecute(graph, live, key, latest, now) {
			continue
		}
		if !dependenciesSatisfied(graph, live, latest, key) {
			continue
		}
		if !activePathSatisfied(graph, live, key) {
			continue
		}
		candidates = append(candidates, key)
	}

	if len(candidates) == 0 {
		return wfmodel.Node{}, false
	}
	return graph.Nodes[preferBranchFollowing(graph, live, candidates)], true
}

// isSettled reports whether status is a terminal, non-retriable outcome
// for ready-node purposes — spec §4.6's "nodes already with a
// completed/failed execution".
func isSettled(status execmodel.NodeExecutionStatus) bool {
	return status == execmodel.NodeExecStatusCompleted || status == execmodel.NodeExecStatusFailed
}

func shouldExecute(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, key string, latest map[string]execmodel.NodeExecutionStatus, now time.Time) bool {
	if loopID, inLoop := loopOf(graph, key); inLoop {
		ls, started := live.Runtime.LoopState[loopID]
		if !started {
			// The loop hasn't begun tracking yet (no member has run
			// once): behave like a plain not-yet-run node.
			return !isSettled(latest[key])
		}
		return ls.ShouldContinue(now)
	}
	return !isSettled(latest[key])
}

// dependenciesSatisfied requires every predecessor to have completed, OR
// (spec §4.6 rule 4's second clause) to have routed to this node anyway
// despite a non-completed latest status — the case of a failed node
// whose error was consumed by a connected error port (handleFailure
// records that as an active path without rewriting the NodeExecution's
// own Failed status). The predecessor across a loop's back edge is
// exempted entirely: that edge's readiness is governed by loop
// continuation (shouldExecute) and active path gating instead, since on
// a loop's first iteration its termination node has not run yet.
func dependenciesSatisfied(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, latest map[string]execmodel.NodeExecutionStatus, key string) bool {
	for pred := range graph.DependencyGraph[key] {
		if isBackEdge(graph, pred, key) {
			continue
		}
		if latest[pred] == execmodel.NodeExecStatusCompleted {
			continue
		}
		if hasActiveIncomingFrom(graph, live, pred, key) {
			continue
		}
		return false
	}
	return true
}

func hasActiveIncomingFrom(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, pred, key string) bool {
	for _, c := range graph.ReverseConnectionMap[key] {
		if c.From != pred {
			continue
		}
		if live.Runtime.ActivePaths[execmodel.ActivePathKey(c.From, c.FromPort)] {
			return true
		}
	}
	return false
}

func isBackEdge(graph *compiler.ExecutionGraph, from, to string) bool {
	for _, l := range graph.Loops {
		if l.BackEdgeFrom == from && l.BackEdgeTo == to {
			return true
		}
	}
	return false
}

// activePathSatisfied implements spec §4.6 rule 5: if any predecessor is
// a branching node, the node is eligible only once one of its incoming
// connections (from any predecessor, branching or not) is recorded in
// active_paths — i.e. some predecessor actually routed to this node on
// this run, not merely completed.
func activePathSatisfied(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, key string) bool {
	hasBranching := false
	anyActive := false
	for _, c := range graph.ReverseConnectionMap[key] {
		if pred, ok := graph.Nodes[c.From]; ok && pred.Type == wfmodel.NodeTypeLogic {
			hasBranching = true
		}
		if live.Runtime.ActivePaths[execmodel.ActivePathKey(c.From, c.FromPort)] {
			anyActive = true
		}
	}
	return !hasBranching || anyActive
}

// preferBranchFollowing picks, among candidates, the one whose incoming
// connection traces back to the most recently executed node (depth-first
// on an active branch); ties break by stable compile-time node order.
func preferBranchFollowing(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, candidates []string) string {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c] = true
	}

	var lastExecuted string
	if n := len(live.Runtime.ExecutedNodes); n > 0 {
		lastExecuted = live.Runtime.ExecutedNodes[n-1]
	}

	if lastExecuted != "" {
		for _, key := range graph.NodeOrder() {
			if !set[key] {
				continue
			}
			for _, c := range graph.ReverseConnectionMap[key] {
				if c.From == lastExecuted {
					return key
				}
			}
		}
	}

	for _, key := range graph.NodeOrder() {
		if set[key] {
			return key
		}
	}
	return candidates[0]
}

func latestStatusByNode(live *execmodel.LiveExecution) map[string]execmodel.NodeExecutionStatus {
	latest := make(map[string]execmodel.NodeExecutionStatus)
	latestIndex := make(map[string]int)
	for _, ne := range live.Persisted.NodeExecutions {
		if idx, ok := latestIndex[ne.NodeKey]; !ok || ne.ExecutionIndex >= idx {
			latest[ne.NodeKey] = ne.Status
			latestIndex[ne.NodeKey] = ne.ExecutionIndex
		}
	}
	return latest
}

func latestFor(live *execmodel.LiveExecution, nodeKey string, status execmodel.NodeExecutionStatus) (*execmodel.NodeExecution, bool) {
	var best *execmodel.NodeExecution
	for i := range live.Persisted.NodeExecutions {
		ne := &live.Persisted.NodeExecutions[i]
		if ne.NodeKey != nodeKey || ne.Status != status {
			continue
		}
		if best == nil || ne.ExecutionIndex > best.ExecutionIndex {
			best = ne
		}
	}
	return best, best != nil
}

func nextRunIndex(live *execmodel.LiveExecution, nodeKey string) int {
	max := -1
	for _, ne := range live.Persisted.NodeExecutions {
		if ne.NodeKey == nodeKey && ne.RunIndex > max {
			max = ne.RunIndex
		}
	}
	return max + 1
}

// routeInput implements spec §4.6's input-routing aggregation rule per
// input port: single contributor passes through, multiple contributors
// become an ordered list, no contributor leaves the port absent.
func routeInput(graph *compiler.ExecutionGraph, live *execmodel.LiveExecution, node wfmodel.Node) map[string]interface{} {
	input := make(map[string]interface{})
	for _, port := range node.InputPorts {
		var contributors []interface{}
		for _, c := range graph.ReverseConnectionMap[node.Key] {
			if c.ToPort != port {
				continue
			}
			if out, ok := contributorOutput(live, c); ok {
				contributors = append(contributors, out)
			}
		}
		switch len(contributors) {
		case 0:
		case 1:
			input[port] = contributors[0]
		default:
			input[port] = contributors
		}
	}
	return input
}

// contributorOutput resolves a connection's contribution from Runtime
// state rather than NodeExecution.Status directly, so a failed node
// whose error was consumed by a connected error port (recorded as an
// active path with its error payload in Runtime.Nodes, despite its
// NodeExecution staying Failed) still routes correctly to successors.
func contributorOutput(live *execmodel.LiveExecution, c wfmodel.Connection) (interface{}, bool) {
	if !live.Runtime.ActivePaths[execmodel.ActivePathKey(c.From, c.FromPort)] {
		return nil, false
	}
	state, ok := live.Runtime.Nodes[c.From]
	if !ok {
		return nil, false
	}
	return state.Output, true
}
