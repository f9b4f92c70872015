// Package action defines the contract external integrations implement to
// participate in graph execution (spec §4.3): Prepare/Execute/Resume,
// looked up from a Registry by (integration_name, action_name).
package action

import "context"

// ResultKind discriminates the outcome of Execute/Resume.
type ResultKind int

const (
	// ResultCompleted carries output data routed on Port.
	ResultCompleted ResultKind = iota
	// ResultSuspended halts the owning Execution until resumed.
	ResultSuspended
	// ResultFailed carries error data, optionally routed on an error port.
	ResultFailed
)

// DefaultSuccessPort is used when an action returns data without naming
// an output port.
const DefaultSuccessPort = "success"

// Result is the discriminated variant an Action's Execute/Resume returns,
// re-expressing the source's `{:ok,...}|{:suspend,...}|{:error,...}` sum
// type as a Go struct (spec §9 redesign note).
type Result struct {
	Kind ResultKind

	// Completed
	Data interface{}
	Port string // empty means DefaultSuccessPort

	// Suspended
	SuspendType string
	SuspendData interface{}

	// Failed
	Err error
}

// Completed builds a ResultCompleted on the default success port.
func Completed(data interface{}) Result {
	return Result{Kind: ResultCompleted, Data: data, Port: DefaultSuccessPort}
}

// CompletedOnPort builds a ResultCompleted on an explicit port.
func CompletedOnPort(data interface{}, port string) Result {
	return Result{Kind: ResultCompleted, Data: data, Port: port}
}

// Suspended builds a ResultSuspended carrying resumable state.
func Suspended(suspendType string, data interface{}) Result {
	return Result{Kind: ResultSuspended, SuspendType: suspendType, SuspendData: data}
}

// Failed builds a ResultFailed with no error-port preference.
func Failed(err error, data interface{}) Result {
	return Result{Kind: ResultFailed, Err: err, Data: data}
}

// FailedOnPort builds a ResultFailed that should route to a named error
// port if one is connected.
func FailedOnPort(err error, data interface{}, port string) Result {
	return Result{Kind: ResultFailed, Err: err, Data: data, Port: port}
}

// Context is the invocation-scoped metadata passed to Prepare, distinct
// from the rendered params (spec §4.4 references it as the second
// `prepare(params, context)` argument).
type Context struct {
	ExecutionID string
	NodeKey     string
	WorkflowID  string
	Mode        string
}

// Action is an external implementation supplying three capabilities
// (spec §4.3). Prepare and Resume are optional; implementations that
// don't need them should embed NopPrepare / NopResume.
type Action interface {
	// Prepare runs once before the first execution of this node within
	// an Execution. It may reserve resume IDs, webhook URLs, etc.
	Prepare(ctx context.Context, params map[string]interface{}, actionCtx Context) (interface{}, error)

	// Execute is pure with respect to rendered; side effects belong to
	// the action's own implementation.
	Execute(ctx context.Context, rendered map[string]interface{}) (Result, error)

	// Resume continues a previously suspended invocation.
	Resume(ctx context.Context, suspensionData interface{}, resumeInput map[string]interface{}) (Result, error)
}

// HealthChecker is an optional capability an Action may implement; the
// Registry's HealthCheck calls it on every action that implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NopPrepare gives an Action a Prepare method returning an empty prep
// value, matching spec §4.3's "optional; default returns empty prep".
type NopPrepare struct{}

func (NopPrepare) Prepare(context.Context, map[string]interface{}, Context) (interface{}, error) {
	return struct{}{}, nil
}

// NopResume gives an Action a Resume method that errors, matching spec
// §4.3's "optional; default errors".
type NopResume struct{}

func (NopResume) Resume(context.Context, interface{}, map[string]interface{}) (Result, error) {
	return Result{}, ErrResumeNotSupported
}
