// Package compiler implements the Workflow Compiler (spec §4.5): turns
// a Workflow plus an optional trigger selection into an ExecutionGraph —
// pruned to the reachable subgraph, indexed for O(1) forward/reverse
// connection lookup, and checked for unsafe cycles.
package compiler

import (
	"fmt"

	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

// Errors reported by Compile, per spec §4.5's validation-error list.
var (
	ErrNoTriggerNodes       = fmt.Errorf("compiler: no_trigger_nodes")
	ErrMultipleTriggers     = fmt.Errorf("compiler: multiple_triggers_found")
	ErrTriggerNotTriggerType = fmt.Errorf("compiler: trigger_not_trigger_type")
	ErrUnknownAction        = fmt.Errorf("compiler: unknown_action")
	ErrInvalidConnection    = fmt.Errorf("compiler: invalid_connection")
	ErrUnsafeCycle          = fmt.Errorf("compiler: unsafe_cycle")
)

// maxSafeLoopSize is the largest cycle the compiler will classify as a
// safe simple loop rather than reject outright (spec §4.5).
const maxSafeLoopSize = 5

// ActionLookup reports whether (integrationName, actionName) is a
// registered action, letting the compiler validate the action reference
// of every node of type action without importing internal/action
// (avoiding an import cycle, since actions may themselves reference
// compiled graphs). Nodes of any other type are not looked up.
type ActionLookup func(integrationName, actionName string) bool

// LoopInfo describes one safe simple loop discovered during
// compilation (spec §4.5: "{loop_id, nodes, termination_node_key}").
type LoopInfo struct {
	LoopID             string
	Nodes              []string
	TerminationNodeKey string

	// BackEdgeFrom/BackEdgeTo identify the single connection that closes
	// the cycle (the termination node's loop-back connection into the
	// body), as opposed to the cycle's forward edges. The graph executor
	// treats this one edge specially: it is what loop continuation (not
	// plain dependency-satisfaction) governs.
	BackEdgeFrom string
	BackEdgeTo   string
}

// ExecutionGraph is a Workflow compiled for execution: pruned to nodes
// reachable from the chosen trigger, with O(1) forward/reverse
// connection indexes and pre-classified loops.
type ExecutionGraph struct {
	WorkflowID      string
	WorkflowVersion int
	TriggerNodeKey  string

	Nodes map[string]wfmodel.Node

	// ConnectionMap indexes connections by (from_key, from_port), in
	// stable (declaration) order.
	ConnectionMap map[string][]wfmodel.Connection
	// ReverseConnectionMap indexes connections by to_key, in stable
	// order.
	ReverseConnectionMap map[string][]wfmodel.Connection
	// DependencyGraph maps a node key to the set of its predecessor
	// keys.
	DependencyGraph map[string]map[string]bool

	Loops []LoopInfo

	// nodeOrder preserves the Workflow's declaration order for
	// tie-breaking in ready-node selection.
	nodeOrder []string
}

// NodeOrder returns node keys in stable compile-time order.
func (g *ExecutionGraph) NodeOrder() []string { return g.nodeOrder }

// HasOutgoingConnection reports whether nodeKey has any connection
// leaving the named output port, used by the graph executor to decide
// whether a failed node's error can be routed to an "error" port
// instead of failing the whole Execution (spec §4.6).
func (g *ExecutionGraph) HasOutgoingConnection(nodeKey, port string) bool {
	return len(g.ConnectionMap[ForwardKey(nodeKey, port)]) > 0
}

// ForwardKey builds the (from_key, from_port) lookup key used by
// ConnectionMap.
func ForwardKey(nodeKey, port string) string { return nodeKey + "." + port }

// Compile turns wf into an ExecutionGraph. triggerNodeKey, if non-empty,
// pins the entry trigger; otherwise the sole `type=trigger` node is used.
func Compile(wf *wfmodel.Workflow, triggerNodeKey string, lookup ActionLookup) (*ExecutionGraph, error) {
	trigger, err := selectTrigger(wf, triggerNodeKey)
	if err != nil {
		return nil, err
	}

	if err := validateActions(wf, lookup); err != nil {
		return nil, err
	}

	reachable := bfsReachable(wf, trigger.Key)

	g := &ExecutionGraph{
		WorkflowID:           wf.ID().String(),
		WorkflowVersion:      wf.Version(),
		TriggerNodeKey:       trigger.Key,
		Nodes:                make(map[string]wfmodel.Node, len(reachable)),
		ConnectionMap:        make(map[string][]wfmodel.Connection),
		ReverseConnectionMap: make(map[string][]wfmodel.Connection),
		DependencyGraph:      make(map[string]map[string]bool),
	}

	for _, n := range wf.Nodes() {
		if !reachable[n.Key] {
			continue
		}
		g.Nodes[n.Key] = n
		g.nodeOrder = append(g.nodeOrder, n.Key)
		g.DependencyGraph[n.Key] = make(map[string]bool)
	}

	for _, c := range wf.Connections() {
		if !reachable[c.From] || !reachable[c.To] {
			continue
		}
		fk := ForwardKey(c.From, c.FromPort)
		g.ConnectionMap[fk] = append(g.ConnectionMap[fk], c)
		g.ReverseConnectionMap[c.To] = append(g.ReverseConnectionMap[c.To], c)
		g.DependencyGraph[c.To][c.From] = true
	}

	loops, err := detectAndClassifyCycles(g)
	if err != nil {
		return nil, err
	}
	g.Loops = loops

	return g, nil
}

func selectTrigger(wf *wfmodel.Workflow, triggerNodeKey string) (wfmodel.Node, error) {
	if triggerNodeKey != "" {
		n, ok := wf.NodeByKey(triggerNodeKey)
		if !ok {
			return wfmodel.Node{}, fmt.Errorf("%w: %q", ErrInvalidConnection, triggerNodeKey)
		}
		if n.Type != wfmodel.NodeTypeTrigger {
			return wfmodel.Node{}, fmt.Errorf("%w: %q", ErrTriggerNotTriggerType, triggerNodeKey)
		}
		return n, nil
	}

	var triggers []wfmodel.Node
	for _, n := range wf.Nodes() {
		if n.Type == wfmodel.NodeTypeTrigger {
			triggers = append(triggers, n)
		}
	}
	switch len(triggers) {
	case 0:
		return wfmodel.Node{}, ErrNoTriggerNodes
	case 1:
		return triggers[0], nil
	default:
		keys := make([]string, len(triggers))
		for i, t := range triggers {
			keys[i] = t.Key
		}
		return wfmodel.Node{}, fmt.Errorf("%w: %v", ErrMultipleTriggers, keys)
	}
}

func validateActions(wf *wfmodel.Workflow, lookup ActionLookup) error {
	if lookup == nil {
		return nil
	}
	for _, n := range wf.Nodes() {
		if n.Type != wfmodel.NodeTypeAction {
			continue
		}
		if !lookup(n.IntegrationName, n.ActionName) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownAction, n.IntegrationName, n.ActionName)
		}
	}
	return nil
}

// bfsReachable returns the set of node keys reachable from triggerKey
// via the forward connection index.
func bfsReachable(wf *wfmodel.Workflow, triggerKey string) map[string]bool {
	adjacency := make(map[string][]string)
	for _, c := range wf.Connections() {
		adjacency[c.From] = append(adjacency[c.From], c.To)
	}

	seen := map[string]bool{triggerKey: true}
	queue := []string{triggerKey}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// detectAndClassifyCycles runs a DFS over g's pruned connections,
// classifying every back-edge cycle it finds as a safe simple loop or
// rejecting compilation outright (spec §4.5).
func detectAndClassifyCycles(g *ExecutionGraph) ([]LoopInfo, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	for k := range g.Nodes {
		color[k] = white
	}

	var stack []string
	var loops []LoopInfo
	loopSeq := 0

	var visit func(node string) error
	visit = func(node string) error {
		color[node] = gray
		stack = append(stack, node)

		for _, conns := range connectionsFrom(g, node) {
			for _, c := range conns {
				switch color[c.To] {
				case white:
					if err := visit(c.To); err != nil {
						return err
					}
				case gray:
					cycleNodes := extractCycle(stack, c.To)
					li, err := classifyCycle(g, cycleNodes, loopSeq)
					if err != nil {
						return err
					}
					loopSeq++
					loops = append(loops, li)
				case black:
					// Cross/forward edge, not a cycle.
				}
			}
		}

		color[node] = black
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, k := range g.nodeOrder {
		if color[k] == white {
			if err := visit(k); err != nil {
				return nil, err
			}
		}
	}

	return loops, nil
}

func connectionsFrom(g *ExecutionGraph, node string) map[string][]wfmodel.Connection {
	n, ok := g.Nodes[node]
	if !ok {
		return nil
	}
	out := make(map[string][]wfmodel.Connection)
	for _, port := range n.OutputPorts {
		if conns, ok := g.ConnectionMap[ForwardKey(node, port)]; ok {
			out[port] = conns
		}
	}
	return out
}

// extractCycle returns the suffix of stack starting at backTo — the
// nodes participating in the cycle just discovered.
func extractCycle(stack []string, backTo string) []string {
	for i, n := range stack {
		if n == backTo {
			cycle := append([]string(nil), stack[i:]...)
			return cycle
		}
	}
	return nil
}

// classifyCycle implements spec §4.5: a cycle is a safe simple loop iff
// it contains at least one logic-type node (the termination controller)
// and has at most maxSafeLoopSize nodes; otherwise compilation is
// rejected.
func classifyCycle(g *ExecutionGraph, cycleNodes []string, loopSeq int) (LoopInfo, error) {
	if len(cycleNodes) > maxSafeLoopSize {
		return LoopInfo{}, fmt.Errorf("%w: %v", ErrUnsafeCycle, cycleNodes)
	}

	terminationKey := ""
	for _, key := range cycleNodes {
		if n, ok := g.Nodes[key]; ok && n.Type == wfmodel.NodeTypeLogic {
			terminationKey = key
			break
		}
	}
	if terminationKey == "" {
		return LoopInfo{}, fmt.Errorf("%w: %v", ErrUnsafeCycle, cycleNodes)
	}

	return LoopInfo{
		LoopID:             fmt.Sprintf("loop-%d", loopSeq),
		Nodes:              cycleNodes,
		TerminationNodeKey: terminationKey,
		BackEdgeFrom:       cycleNodes[len(cycleNodes)-1],
		BackEdgeTo:         cycleNodes[0],
	}, nil
}
