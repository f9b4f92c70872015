// Package model holds the Workflow aggregate: the static, user-authored
// definition of a directed graph of nodes and port-to-port connections.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowID identifies a Workflow.
type WorkflowID string

// NewWorkflowID generates a fresh WorkflowID.
func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.New().String())
}

func (id WorkflowID) String() string {
	return string(id)
}

// Validate checks the id is a well-formed, non-empty uuid.
func (id WorkflowID) Validate() error {
	if id == "" {
		return errors.New("workflow ID cannot be empty")
	}
	_, err := uuid.Parse(string(id))
	return err
}

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusInactive WorkflowStatus = "inactive"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// NodeType classifies a Node's role in the graph.
type NodeType string

const (
	NodeTypeTrigger NodeType = "trigger"
	NodeTypeAction  NodeType = "action"
	NodeTypeLogic   NodeType = "logic"
	NodeTypeWait    NodeType = "wait"
	NodeTypeOutput  NodeType = "output"
)

// RetryPolicy controls whether and how a failed node is retried.
type RetryPolicy struct {
	RetryOnFailed bool `json:"retryOnFailed"`
	MaxRetries    int  `json:"maxRetries"`
	RetryDelayMs  int  `json:"retryDelayMs"`
}

// NodeSettings is the per-node execution configuration.
type NodeSettings struct {
	RetryOnFailed bool `json:"retryOnFailed"`
	MaxRetries    int  `json:"maxRetries"`
	RetryDelayMs  int  `json:"retryDelayMs"`
	TimeoutMs     *int `json:"timeoutMs,omitempty"`
}

// Node is one vertex of a Workflow graph.
type Node struct {
	Key             string                 `json:"key"`
	Name            string                 `json:"name"`
	Type            NodeType               `json:"type"`
	IntegrationName string                 `json:"integrationName"`
	ActionName      string                 `json:"actionName"`
	Params          map[string]interface{} `json:"params"`
	InputPorts      []string               `json:"inputPorts"`
	OutputPorts     []string               `json:"outputPorts"`
	Settings        NodeSettings           `json:"settings"`
	Position        Position               `json:"position"`
}

// HasOutputPort reports whether port is declared on this node.
func (n Node) HasOutputPort(port string) bool {
	for _, p := range n.OutputPorts {
		if p == port {
			return true
		}
	}
	return false
}

// HasInputPort reports whether port is declared on this node.
func (n Node) HasInputPort(port string) bool {
	for _, p := range n.InputPorts {
		if p == port {
			return true
		}
	}
	return false
}

// Position is an editor-only hint, carried through but never interpreted
// by the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is a directed edge between two node ports.
type Connection struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromPort string `json:"fromPort"`
	To       string `json:"to"`
	ToPort   string `json:"toPort"`
}

// Settings are workflow-wide defaults and metadata.
type Settings struct {
	MaxExecutionTime int                    `json:"maxExecutionTime"`
	RetryPolicy      RetryPolicy            `json:"retryPolicy"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// DefaultSettings returns the workflow defaults new workflows are born with.
func DefaultSettings() Settings {
	return Settings{
		MaxExecutionTime: 3600,
		RetryPolicy: RetryPolicy{
			RetryOnFailed: false,
			MaxRetries:    0,
			RetryDelayMs:  0,
		},
		Metadata: make(map[string]interface{}),
	}
}

// Workflow is the aggregate root: a static, user-authored graph of nodes
// and connections, unique by node key, addressed by port name.
type Workflow struct {
	id      WorkflowID
	version int
	events  []DomainEvent

	userID      string
	name        string
	description string
	status      WorkflowStatus
	nodes       []Node
	connections []Connection
	variables   map[string]interface{}
	settings    Settings
	tags        []string
	createdAt   time.Time
	updatedAt   time.Time

	maxNodes int
}

// NewWorkflow creates an empty draft workflow.
func NewWorkflow(userID, name, description string) (*Workflow, error) {
	if userID == "" {
		return nil, errors.New("user ID is required")
	}
	if name == "" {
		return nil, errors.New("workflow name is required")
	}

	w := &Workflow{
		id:          NewWorkflowID(),
		version:     1,
		userID:      userID,
		name:        name,
		description: description,
		status:      WorkflowStatusDraft,
		nodes:       make([]Node, 0),
		connections: make([]Connection, 0),
		variables:   make(map[string]interface{}),
		settings:    DefaultSettings(),
		tags:        make([]string, 0),
		createdAt:   time.Now(),
		updatedAt:   time.Now(),
		maxNodes:    200,
	}

	w.addEvent(WorkflowCreatedEvent{
		WorkflowID:  w.id,
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   w.createdAt,
	})

	return w, nil
}

func (w *Workflow) ID() WorkflowID                      { return w.id }
func (w *Workflow) UserID() string                      { return w.userID }
func (w *Workflow) Name() string                        { return w.name }
func (w *Workflow) Description() string                 { return w.description }
func (w *Workflow) Status() WorkflowStatus               { return w.status }
func (w *Workflow) Nodes() []Node                        { return w.nodes }
func (w *Workflow) Connections() []Connection            { return w.connections }
func (w *Workflow) Variables() map[string]interface{}    { return w.variables }
func (w *Workflow) Settings() Settings                   { return w.settings }
func (w *Workflow) Version() int                         { return w.version }
func (w *Workflow) CreatedAt() time.Time                 { return w.createdAt }
func (w *Workflow) UpdatedAt() time.Time                 { return w.updatedAt }

// NodeByKey looks up a node by its unique key.
func (w *Workflow) NodeByKey(key string) (Node, bool) {
	for _, n := range w.nodes {
		if n.Key == key {
			return n, true
		}
	}
	return Node{}, false
}

// Activate moves a draft/inactive workflow to active, after checking it
// has at least one node, a trigger, and internally-consistent connections.
// Loop detection and rejection is the Compiler's job (§4.5), not the
// aggregate's: a workflow containing a safe simple loop is a perfectly
// valid, activatable Workflow.
func (w *Workflow) Activate() error {
	if w.status != WorkflowStatusDraft && w.status != WorkflowStatusInactive {
		return errors.New("workflow can only be activated from draft or inactive status")
	}
	if len(w.nodes) == 0 {
		return errors.New("workflow must have at least one node")
	}
	if err := w.validateConnections(); err != nil {
		return fmt.Errorf("invalid connections: %w", err)
	}

	hasTrigger := false
	for _, node := range w.nodes {
		if node.Type == NodeTypeTrigger {
			hasTrigger = true
			break
		}
	}
	if !hasTrigger {
		return errors.New("workflow must have at least one trigger node")
	}

	w.status = WorkflowStatusActive
	w.updatedAt = time.Now()
	w.addEvent(WorkflowActivatedEvent{WorkflowID: w.id, ActivatedAt: w.updatedAt})
	return nil
}

// Deactivate moves an active workflow back to inactive.
func (w *Workflow) Deactivate() error {
	if w.status != WorkflowStatusActive {
		return errors.New("only active workflows can be deactivated")
	}
	w.status = WorkflowStatusInactive
	w.updatedAt = time.Now()
	w.addEvent(WorkflowDeactivatedEvent{WorkflowID: w.id, DeactivatedAt: w.updatedAt})
	return nil
}

// Archive marks the workflow as archived; archived workflows are immutable.
func (w *Workflow) Archive() error {
	if w.status == WorkflowStatusArchived {
		return errors.New("workflow is already archived")
	}
	w.status = WorkflowStatusArchived
	w.updatedAt = time.Now()
	w.addEvent(WorkflowArchivedEvent{WorkflowID: w.id, ArchivedAt: w.updatedAt})
	return nil
}

// AddNode appends a node, rejecting duplicate keys.
func (w *Workflow) AddNode(node Node) error {
	if w.status == WorkflowStatusArchived {
		return errors.New("cannot modify archived workflow")
	}
	if len(w.nodes) >= w.maxNodes {
		return fmt.Errorf("workflow cannot have more than %d nodes", w.maxNodes)
	}
	if node.Key == "" {
		return errors.New("node key is required")
	}
	for _, existing := range w.nodes {
		if existing.Key == node.Key {
			return fmt.Errorf("node with key %q already exists", node.Key)
		}
	}
	if len(node.InputPorts) == 0 && node.Type != NodeTypeTrigger {
		node.InputPorts = []string{"main"}
	}

	w.nodes = append(w.nodes, node)
	w.updatedAt = time.Now()
	if w.status == WorkflowStatusActive {
		w.status = WorkflowStatusDraft
	}
	w.addEvent(NodeAddedEvent{WorkflowID: w.id, Node: node, AddedAt: w.updatedAt})
	return nil
}

// RemoveNode removes a node and any connections touching it.
func (w *Workflow) RemoveNode(key string) error {
	if w.status == WorkflowStatusArchived {
		return errors.New("cannot modify archived workflow")
	}

	idx := -1
	for i, n := range w.nodes {
		if n.Key == key {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("node %q not found", key)
	}

	w.nodes = append(w.nodes[:idx], w.nodes[idx+1:]...)

	kept := w.connections[:0:0]
	for _, c := range w.connections {
		if c.From != key && c.To != key {
			kept = append(kept, c)
		}
	}
	w.connections = kept

	w.updatedAt = time.Now()
	if w.status == WorkflowStatusActive {
		w.status = WorkflowStatusDraft
	}
	w.addEvent(NodeRemovedEvent{WorkflowID: w.id, NodeKey: key, RemovedAt: w.updatedAt})
	return nil
}

// AddConnection wires from_port of one node to to_port of another.
// Invariant (spec §3): from_port must be declared on the source node's
// output_ports, to_port on the target's input_ports, and both nodes must
// exist.
func (w *Workflow) AddConnection(conn Connection) error {
	if w.status == WorkflowStatusArchived {
		return errors.New("cannot modify archived workflow")
	}

	src, ok := w.NodeByKey(conn.From)
	if !ok {
		return fmt.Errorf("source node %q not found", conn.From)
	}
	dst, ok := w.NodeByKey(conn.To)
	if !ok {
		return fmt.Errorf("target node %q not found", conn.To)
	}
	if !src.HasOutputPort(conn.FromPort) {
		return fmt.Errorf("source node %q has no output port %q", conn.From, conn.FromPort)
	}
	if !dst.HasInputPort(conn.ToPort) {
		return fmt.Errorf("target node %q has no input port %q", conn.To, conn.ToPort)
	}

	for _, existing := range w.connections {
		if existing.From == conn.From && existing.To == conn.To &&
			existing.FromPort == conn.FromPort && existing.ToPort == conn.ToPort {
			return errors.New("connection already exists")
		}
	}

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}

	w.connections = append(w.connections, conn)
	w.updatedAt = time.Now()
	if w.status == WorkflowStatusActive {
		w.status = WorkflowStatusDraft
	}
	w.addEvent(ConnectionAddedEvent{WorkflowID: w.id, Connection: conn, AddedAt: w.updatedAt})
	return nil
}

// UpdateSettings replaces the workflow-wide settings.
func (w *Workflow) UpdateSettings(settings Settings) error {
	if w.status == WorkflowStatusArchived {
		return errors.New("cannot modify archived workflow")
	}
	w.settings = settings
	w.updatedAt = time.Now()
	w.addEvent(WorkflowSettingsUpdatedEvent{WorkflowID: w.id, Settings: settings, UpdatedAt: w.updatedAt})
	return nil
}

// validateConnections checks every connection references existing nodes
// and declared ports. It does NOT reject cycles: simple loops are a
// compile-time concern (internal/compiler), not a structural one.
func (w *Workflow) validateConnections() error {
	nodeMap := make(map[string]Node, len(w.nodes))
	for _, n := range w.nodes {
		nodeMap[n.Key] = n
	}

	for _, c := range w.connections {
		src, ok := nodeMap[c.From]
		if !ok {
			return fmt.Errorf("source node %q not found", c.From)
		}
		dst, ok := nodeMap[c.To]
		if !ok {
			return fmt.Errorf("target node %q not found", c.To)
		}
		if !src.HasOutputPort(c.FromPort) {
			return fmt.Errorf("source node %q has no output port %q", c.From, c.FromPort)
		}
		if !dst.HasInputPort(c.ToPort) {
			return fmt.Errorf("target node %q has no input port %q", c.To, c.ToPort)
		}
	}
	return nil
}

func (w *Workflow) addEvent(event DomainEvent) {
	w.events = append(w.events, event)
	w.version++
}

// GetUncommittedEvents returns events raised since the last commit.
func (w *Workflow) GetUncommittedEvents() []DomainEvent {
	return w.events
}

// MarkEventsAsCommitted clears the uncommitted event buffer.
func (w *Workflow) MarkEventsAsCommitted() {
	w.events = nil
}

// ReconstructWorkflow rehydrates a Workflow from persisted state without
// raising domain events.
func ReconstructWorkflow(
	id WorkflowID,
	userID, name, description string,
	status WorkflowStatus,
	nodes []Node,
	connections []Connection,
	variables map[string]interface{},
	settings Settings,
	version int,
	createdAt, updatedAt time.Time,
) *Workflow {
	return &Workflow{
		id:          id,
		version:     version,
		userID:      userID,
		name:        name,
		description: description,
		status:      status,
		nodes:       nodes,
		connections: connections,
		variables:   variables,
		settings:    settings,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
		maxNodes:    200,
		events:      nil,
	}
}
