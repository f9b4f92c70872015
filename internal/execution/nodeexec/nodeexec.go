// Package nodeexec implements the Node Executor (spec §4.4): running
// one NodeExecution for a given node inside a given Execution, given
// pre-routed input. It builds the template context, dispatches
// structured/raw param rendering, invokes the Action, classifies the
// result, and turns retry policy into an internal retry suspension.
package nodeexec

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/prana-run/prana/internal/action"
	execmodel "github.com/prana-run/prana/internal/execution/model"
	"github.com/prana-run/prana/internal/platform/telemetry"
	"github.com/prana-run/prana/internal/secrets"
	"github.com/prana-run/prana/internal/template"
	wfmodel "github.com/prana-run/prana/internal/workflow/model"
)

// WorkflowRef is the minimal workflow identity exposed to the template
// context's `$workflow` mapping.
type WorkflowRef struct {
	ID      string
	Version int
}

// ExecutionRef is the minimal execution identity exposed to the
// template context's `$execution` mapping.
type ExecutionRef struct {
	ID          string
	Mode        string
	Preparation map[string]interface{}
}

// Executor runs individual nodes against a Registry of Actions.
type Executor struct {
	registry  *action.Registry
	telemetry *telemetry.Telemetry
	secrets   *secrets.Box
}

// New constructs an Executor bound to registry.
func New(registry *action.Registry) *Executor {
	return &Executor{registry: registry}
}

// WithTelemetry attaches a Telemetry instance so Execute opens a span
// per node run. Returns x for chaining at construction time.
func (x *Executor) WithTelemetry(t *telemetry.Telemetry) *Executor {
	x.telemetry = t
	return x
}

// WithSecrets attaches a secrets.Box so rendered params carrying a
// "secret:" reference are resolved to plaintext before Execute, rather
// than storing or logging credential material in the clear. Returns x
// for chaining at construction time.
func (x *Executor) WithSecrets(b *secrets.Box) *Executor {
	x.secrets = b
	return x
}

// Execute runs node once, given its pre-routed input and run index, and
// returns the resulting NodeExecution. It has no error return: every
// failure, including a registry lookup failure, is captured in the
// returned NodeExecution's ErrorData as a NodeExecStatusFailed
// NodeExecution, to keep the GraphExecutor's loop uniform.
func (x *Executor) Execute(
	ctx context.Context,
	node wfmodel.Node,
	routedInput map[string]interface{},
	live *execmodel.LiveExecution,
	wf WorkflowRef,
	exec ExecutionRef,
	executionIndex, runIndex int,
) execmodel.NodeExecution {
	started := time.Now()
	base := execmodel.NodeExecution{
		NodeKey:        node.Key,
		Status:         execmodel.NodeExecStatusRunning,
		StartedAt:      started,
		ExecutionIndex: executionIndex,
		RunIndex:       runIndex,
	}

	desc, err := x.registry.Get(node.IntegrationName, node.ActionName)
	if err != nil {
		return x.fail(base, execmodel.ErrorKindMissingAction, err.Error(), exec.ID, node.Key, nil)
	}

	rendered, err := x.renderParams(node, routedInput, live, wf, exec)
	if err != nil {
		return x.fail(base, execmodel.ErrorKindRenderError, err.Error(), exec.ID, node.Key, nil)
	}

	if x.secrets != nil {
		rendered, err = x.secrets.OpenAll(rendered)
		if err != nil {
			return x.fail(base, execmodel.ErrorKindRenderError, err.Error(), exec.ID, node.Key, nil)
		}
	}

	nodeCtx := ctx
	var cancel context.CancelFunc
	if node.Settings.TimeoutMs != nil {
		nodeCtx, cancel = context.WithTimeout(ctx, time.Duration(*node.Settings.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	if x.telemetry != nil {
		var span trace.Span
		nodeCtx, span = x.telemetry.StartNodeSpan(nodeCtx, wf.ID, exec.ID, node.Key, node.ActionName)
		defer span.End()
	}

	result, execErr := x.invoke(nodeCtx, desc.Action, rendered)
	if execErr != nil {
		if nodeCtx.Err() == context.DeadlineExceeded {
			return x.fail(base, execmodel.ErrorKindTimeout, "node execution exceeded timeout_ms", exec.ID, node.Key, nil)
		}
		return x.classifyFailure(base, node, execErr, nil, exec.ID)
	}

	return x.classifyResult(base, node, result, exec.ID)
}

// Resume continues a suspended NodeExecution (spec §4.4's resume path).
func (x *Executor) Resume(
	ctx context.Context,
	node wfmodel.Node,
	suspended execmodel.NodeExecution,
	resumeInput map[string]interface{},
) execmodel.NodeExecution {
	base := execmodel.NodeExecution{
		NodeKey:        node.Key,
		Status:         execmodel.NodeExecStatusRunning,
		StartedAt:      time.Now(),
		ExecutionIndex: suspended.ExecutionIndex,
		RunIndex:       suspended.RunIndex,
	}

	desc, err := x.registry.Get(node.IntegrationName, node.ActionName)
	if err != nil {
		return x.fail(base, execmodel.ErrorKindMissingAction, err.Error(), "", node.Key, nil)
	}

	result, err := desc.Action.Resume(ctx, suspended.SuspensionData, resumeInput)
	if err != nil {
		return x.classifyFailure(base, node, err, nil, "")
	}
	return x.classifyResult(base, node, result, "")
}

func (x *Executor) invoke(ctx context.Context, a action.Action, rendered map[string]interface{}) (result action.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	result, err = a.Execute(ctx, rendered)
	return result, err
}

// renderParams implements spec §4.4's two-mode input handling: render
// every leaf of node.Params with the template renderer in structured
// mode, or pass routedInput straight through in raw mode.
func (x *Executor) renderParams(
	node wfmodel.Node,
	routedInput map[string]interface{},
	live *execmodel.LiveExecution,
	wf WorkflowRef,
	exec ExecutionRef,
) (map[string]interface{}, error) {
	if len(node.Params) == 0 {
		return routedInput, nil
	}

	tplCtx := buildTemplateContext(node, routedInput, live, wf, exec)
	rendered, err := template.ProcessMap(node.Params, tplCtx, template.Options{Mode: template.ModeStrict})
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("rendered params did not preserve mapping shape")
	}
	return out, nil
}

// buildTemplateContext builds the mapping passed to the template
// renderer, per spec §4.4:
//
//	$id        → node.key
//	$input     → routed_input
//	$nodes     → execution.runtime.nodes
//	$env       → execution.runtime.env
//	$vars      → execution.vars
//	$workflow  → { id, version }
//	$execution → { id, mode, preparation }
func buildTemplateContext(
	node wfmodel.Node,
	routedInput map[string]interface{},
	live *execmodel.LiveExecution,
	wf WorkflowRef,
	exec ExecutionRef,
) map[string]interface{} {
	nodes := make(map[string]interface{}, len(live.Runtime.Nodes))
	for k, v := range live.Runtime.Nodes {
		nodes[k] = v.Output
	}
	env := make(map[string]interface{}, len(live.Runtime.Env))
	for k, v := range live.Runtime.Env {
		env[k] = v
	}

	return map[string]interface{}{
		"id":    node.Key,
		"input": routedInput,
		"nodes": nodes,
		"env":   env,
		"vars":  live.Persisted.Vars,
		"workflow": map[string]interface{}{
			"id":      wf.ID,
			"version": wf.Version,
		},
		"execution": map[string]interface{}{
			"id":          exec.ID,
			"mode":        exec.Mode,
			"preparation": exec.Preparation,
		},
	}
}

// classifyResult implements the Action-return -> NodeExecution table of
// spec §4.4.
func (x *Executor) classifyResult(base execmodel.NodeExecution, node wfmodel.Node, result action.Result, execID string) execmodel.NodeExecution {
	now := time.Now()
	base.CompletedAt = &now

	switch result.Kind {
	case action.ResultCompleted:
		port := result.Port
		if port == "" {
			port = action.DefaultSuccessPort
		}
		if !node.HasOutputPort(port) {
			return x.fail(base, execmodel.ErrorKindInvalidPort,
				fmt.Sprintf("output port %q is not declared on node %q", port, node.Key), execID, node.Key, nil)
		}
		base.Status = execmodel.NodeExecStatusCompleted
		base.OutputData = result.Data
		base.OutputPort = port
		return base

	case action.ResultSuspended:
		base.Status = execmodel.NodeExecStatusSuspended
		base.SuspensionType = result.SuspendType
		base.SuspensionData = result.SuspendData
		return base

	case action.ResultFailed:
		return x.classifyFailure(base, node, result.Err, result.Data, execID)

	default:
		return x.fail(base, execmodel.ErrorKindActionException, "action returned an unrecognized result kind", execID, node.Key, nil)
	}
}

func (x *Executor) classifyFailure(base execmodel.NodeExecution, node wfmodel.Node, err error, data interface{}, execID string) execmodel.NodeExecution {
	kind := execmodel.ErrorKindActionError
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if node.Settings.RetryOnFailed && base.RunIndex < node.Settings.MaxRetries {
		return x.retrySuspension(base, node, msg, data)
	}

	var details map[string]interface{}
	if data != nil {
		details = map[string]interface{}{"data": data}
	}
	return x.fail(base, kind, msg, execID, node.Key, details)
}

// retrySuspension implements spec §4.4's internal retry suspension:
// suspension_data = {resumed_at, attempt_number, max_attempts,
// original_error}. The host schedules the resume; GraphExecutor.Resume
// then runs the node again as a new NodeExecution with run_index + 1.
func (x *Executor) retrySuspension(base execmodel.NodeExecution, node wfmodel.Node, originalErr string, data interface{}) execmodel.NodeExecution {
	now := time.Now()
	base.CompletedAt = &now
	base.Status = execmodel.NodeExecStatusSuspended
	base.SuspensionType = "retry"
	base.SuspensionData = map[string]interface{}{
		"resumed_at":     now.Add(time.Duration(node.Settings.RetryDelayMs) * time.Millisecond),
		"attempt_number": base.RunIndex + 1,
		"max_attempts":   node.Settings.MaxRetries,
		"original_error": originalErr,
		"original_data":  data,
	}
	return base
}

func (x *Executor) fail(base execmodel.NodeExecution, kind, message, execID, nodeKey string, details map[string]interface{}) execmodel.NodeExecution {
	now := time.Now()
	base.CompletedAt = &now
	base.Status = execmodel.NodeExecStatusFailed
	base.ErrorData = &execmodel.StructuredError{
		Kind:        kind,
		Message:     message,
		Details:     details,
		NodeKey:     nodeKey,
		ExecutionID: execID,
		Timestamp:   now,
	}
	return base
}
