// Package middleware implements the driver's optional event pipeline
// (spec §4.6 "Middleware events"): an ordered list of handlers composed
// into a single `(event, data, next) -> data` chain for observability
// and persistence hooks, covering the seven events the GraphExecutor
// emits. A handler may inspect/enrich Data and must call next to
// continue the chain; a handler that panics or errors is logged and
// the chain continues with the data as it stood before that handler —
// "Middleware failures MUST NOT break the pipeline; log and continue".
package middleware

import "fmt"

// EventType names one of the seven events the driver emits.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionSuspended EventType = "execution_suspended"
	EventNodeStarted        EventType = "node_started"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
)

// Event is the payload passed through the pipeline. Subject is an
// Execution, Node, Suspension, etc., depending on Type; Data is a
// free-form mapping a handler may enrich.
type Event struct {
	Type    EventType
	Subject interface{}
	Data    map[string]interface{}
}

// Next is the continuation a Handler calls to pass control (and
// possibly modified data) to the remainder of the pipeline. Not calling
// it ends the chain at that handler; each extra call runs the remainder
// of the pipeline again.
type Next func(data map[string]interface{}) (map[string]interface{}, error)

// Handler is one pipeline stage.
type Handler func(event Event, data map[string]interface{}, next Next) (map[string]interface{}, error)

// Logger receives a description of a handler failure the pipeline
// swallowed, so hosts can route it to their own logging without the
// pipeline importing a concrete logger.
type Logger func(eventType EventType, handlerIndex int, err error)

// Pipeline holds an ordered list of Handlers composed into one chain
// per Emit call.
type Pipeline struct {
	handlers []Handler
	logger   Logger
}

// NewPipeline constructs an empty Pipeline. A nil logger discards
// handler failures silently.
func NewPipeline(logger Logger) *Pipeline {
	if logger == nil {
		logger = func(EventType, int, error) {}
	}
	return &Pipeline{logger: logger}
}

// Use appends h to the end of the pipeline.
func (p *Pipeline) Use(h Handler) {
	p.handlers = append(p.handlers, h)
}

// Emit drives event through every registered handler in order,
// returning the data the chain settled on.
func (p *Pipeline) Emit(event Event) map[string]interface{} {
	data := event.Data
	if data == nil {
		data = make(map[string]interface{})
	}
	return p.run(event, 0, data)
}

// run invokes handler index against data, wiring its `next` to recurse
// into index+1. A panicking or erroring handler is logged and the
// chain resumes from the data that handler was given, so one broken
// middleware never poisons the rest of the pipeline's view of the data.
func (p *Pipeline) run(event Event, index int, data map[string]interface{}) (result map[string]interface{}) {
	if index >= len(p.handlers) {
		return data
	}

	result = data
	defer func() {
		if r := recover(); r != nil {
			p.logger(event.Type, index, fmt.Errorf("middleware panic: %v", r))
			result = p.run(event, index+1, data)
		}
	}()

	next := func(d map[string]interface{}) (map[string]interface{}, error) {
		return p.run(event, index+1, d), nil
	}

	out, err := p.handlers[index](event, data, next)
	if err != nil {
		p.logger(event.Type, index, err)
		return p.run(event, index+1, data)
	}
	return out
}
