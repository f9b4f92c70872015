// Package subworkflow dispatches execution of another workflow from
// within a node. Grounded on
// internal/workflow/features/subworkflow.go's SubWorkflowExecutor
// (input/output field mapping, onError stop/continue/fallback modes,
// depth-limit check), reworked around suspend/resume instead of a
// direct in-process recursive call: Execute only maps input and
// reports a Suspended result naming the dispatch mode: the host
// (internal/execution/service) is the one that actually compiles and
// runs the target workflow, keeping the graph executor itself
// host-agnostic.
package subworkflow

import (
	"context"
	"fmt"

	"github.com/prana-run/prana/internal/action"
)

// SuspendData is the opaque payload carried by a Suspended result,
// read back by the host's sub-workflow dispatcher on Resume.
type SuspendData struct {
	Mode       string // sync, async, fire_and_forget
	WorkflowID string
	Input      map[string]interface{}
	OnError    string // stop, continue, fallback
	Fallback   map[string]interface{}
}

// Action prepares a sub-workflow dispatch and completes on Resume with
// the sub-workflow's output.
type Action struct {
	action.NopPrepare
}

func (a Action) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	workflowID, _ := rendered["workflow_id"].(string)
	if workflowID == "" {
		return action.Result{}, fmt.Errorf("subworkflow: workflow_id is required")
	}

	mode, _ := rendered["mode"].(string)
	if mode == "" {
		mode = "sync"
	}
	if mode != "sync" && mode != "async" && mode != "fire_and_forget" {
		return action.Result{}, fmt.Errorf("subworkflow: unknown mode %q", mode)
	}

	onError, _ := rendered["on_error"].(string)
	if onError == "" {
		onError = "stop"
	}
	fallback, _ := rendered["fallback_value"].(map[string]interface{})

	input := mapFields(rendered, "input_mapping")

	return action.Suspended("sub_workflow", SuspendData{
		Mode:       mode,
		WorkflowID: workflowID,
		Input:      input,
		OnError:    onError,
		Fallback:   fallback,
	}), nil
}

// Resume is called by the host once the dispatched sub-workflow settles
// (or immediately, for fire_and_forget). resumeInput carries the
// sub-workflow's raw output and is returned unchanged; no output
// mapping is applied.
func (a Action) Resume(_ context.Context, suspensionData interface{}, resumeInput map[string]interface{}) (action.Result, error) {
	data, ok := suspensionData.(SuspendData)
	if !ok {
		return action.Result{}, fmt.Errorf("subworkflow: unexpected suspension payload %T", suspensionData)
	}

	if failed, _ := resumeInput["__failed"].(bool); failed {
		switch data.OnError {
		case "continue":
			return action.Completed(data.Fallback), nil
		case "fallback":
			return action.Completed(data.Fallback), nil
		default:
			errMsg, _ := resumeInput["__error"].(string)
			return action.Failed(fmt.Errorf("subworkflow: sub-workflow failed: %s", errMsg), nil), nil
		}
	}

	return action.Completed(resumeInput), nil
}

func mapFields(rendered map[string]interface{}, mappingKey string) map[string]interface{} {
	mapping, ok := rendered[mappingKey].(map[string]interface{})
	if !ok || len(mapping) == 0 {
		if input, ok := rendered["input"].(map[string]interface{}); ok {
			return input
		}
		return nil
	}

	source, _ := rendered["input"].(map[string]interface{})
	mapped := make(map[string]interface{}, len(mapping))
	for targetKey, sourceKeyVal := range mapping {
		sourceKey, ok := sourceKeyVal.(string)
		if !ok {
			continue
		}
		if value, ok := source[sourceKey]; ok {
			mapped[targetKey] = value
		}
	}
	return mapped
}

// Register adds the sub-workflow dispatch action under the "workflow" integration.
func Register(r *action.Registry) error {
	return r.Register(action.Descriptor{
		IntegrationName: "workflow",
		ActionName:      "sub_workflow",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{},
	})
}
