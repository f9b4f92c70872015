package realtime

import (
	"github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/middleware"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

// ExecutionEvent is the payload broadcast for execution-level events.
// Field names and the status shape are grounded on
// internal/gateway/realtime/events.go's ExecutionEvent, trimmed of the
// workflow-name/progress-percentage fields that package computed from
// a tracker this binary doesn't keep (the Persisted execution already
// carries everything a subscriber needs).
type ExecutionEvent struct {
	ExecutionID string                 `json:"executionId"`
	WorkflowID  string                 `json:"workflowId"`
	Status      string                 `json:"status"`
	Error       *model.StructuredError `json:"error,omitempty"`
}

// NodeEvent is the payload broadcast for node-level events, grounded on
// the same file's NodeEvent shape.
type NodeEvent struct {
	ExecutionID string      `json:"executionId"`
	NodeKey     string      `json:"nodeKey"`
	Status      string      `json:"status"`
	Port        string      `json:"port,omitempty"`
	Error       interface{} `json:"error,omitempty"`
}

// Bridge turns driver pipeline events into Hub broadcasts on two
// channels per execution: "executions" (every execution, for a
// dashboard-wide feed) and "execution:<id>" (just that run, for a
// detail view). Wired onto a middleware.Pipeline with Use.
func Bridge(hub *Hub) middleware.Handler {
	return func(event middleware.Event, data map[string]interface{}, next middleware.Next) (map[string]interface{}, error) {
		switch event.Type {
		case middleware.EventExecutionStarted, middleware.EventExecutionCompleted, middleware.EventExecutionFailed, middleware.EventExecutionSuspended:
			if exec, ok := event.Subject.(*model.PersistedExecution); ok {
				publishExecutionEvent(hub, string(event.Type), exec)
			}
		case middleware.EventNodeStarted, middleware.EventNodeCompleted, middleware.EventNodeFailed:
			if node, ok := event.Subject.(wfmodel.Node); ok {
				publishNodeEvent(hub, string(event.Type), node, data)
			}
		}
		return next(data)
	}
}

func publishExecutionEvent(hub *Hub, eventName string, exec *model.PersistedExecution) {
	payload := ExecutionEvent{
		ExecutionID: exec.ID.String(),
		WorkflowID:  exec.WorkflowID,
		Status:      string(exec.Status),
		Error:       exec.Error,
	}
	hub.Broadcast("executions", eventName, payload)
	hub.Broadcast("execution:"+exec.ID.String(), eventName, payload)
}

func publishNodeEvent(hub *Hub, eventName string, node wfmodel.Node, data map[string]interface{}) {
	executionID, _ := data["execution_id"].(string)
	status := string(model.NodeExecStatusRunning)
	var port string
	var errData *model.StructuredError
	if ne, ok := data["node_execution"].(model.NodeExecution); ok {
		status = string(ne.Status)
		port = ne.OutputPort
		errData = ne.ErrorData
	}
	payload := NodeEvent{
		ExecutionID: executionID,
		NodeKey:     node.Key,
		Status:      status,
		Port:        port,
		Error:       errData,
	}
	hub.Broadcast("execution:"+executionID, eventName, payload)
}
