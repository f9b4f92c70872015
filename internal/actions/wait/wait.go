// Package wait implements the interval/schedule/webhook delay action.
// Grounded on internal/node/runtime/nodes/wait_node.go's amount/unit
// configuration, reworked from an in-process time.Sleep/select loop
// into a suspension the graph executor resumes later (spec §4.6's
// wait-action suspension handling), the same redesign nodeexec already
// applies to retry delays.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/prana-run/prana/internal/action"
)

// SuspendData is the payload recorded when a wait action suspends,
// carrying everything the host's scheduler needs to re-enter the
// Execution at the right time.
type SuspendData struct {
	Type     string // interval | schedule | webhook
	ResumeAt time.Time // zero for webhook
	Cron     string    // only set for Type == schedule
}

// Action implements interval delays, cron-style schedule waits, and
// webhook waits. Which behavior applies is selected by params["mode"].
type Action struct {
	action.NopPrepare
}

func (Action) Execute(_ context.Context, rendered map[string]interface{}) (action.Result, error) {
	mode, _ := rendered["mode"].(string)
	switch mode {
	case "", "interval":
		amount := intParam(rendered, "amount", 1)
		unit, _ := rendered["unit"].(string)
		d, err := intervalDuration(amount, unit)
		if err != nil {
			return action.Result{}, err
		}
		return action.Suspended("interval", SuspendData{Type: "interval", ResumeAt: time.Now().Add(d)}), nil
	case "schedule":
		cron, _ := rendered["cron"].(string)
		if cron == "" {
			return action.Result{}, fmt.Errorf("wait: schedule mode requires a cron expression")
		}
		return action.Suspended("schedule", SuspendData{Type: "schedule", Cron: cron}), nil
	case "webhook":
		return action.Suspended("webhook", SuspendData{Type: "webhook"}), nil
	default:
		return action.Result{}, fmt.Errorf("wait: unknown mode %q", mode)
	}
}

// Resume simply passes the host-supplied resumeInput through unchanged:
// the wait itself carries no output of its own beyond the original
// input plus whatever a webhook delivered.
func (Action) Resume(_ context.Context, _ interface{}, resumeInput map[string]interface{}) (action.Result, error) {
	return action.Completed(resumeInput), nil
}

func intervalDuration(amount int, unit string) (time.Duration, error) {
	switch unit {
	case "", "seconds":
		return time.Duration(amount) * time.Second, nil
	case "milliseconds":
		return time.Duration(amount) * time.Millisecond, nil
	case "minutes":
		return time.Duration(amount) * time.Minute, nil
	case "hours":
		return time.Duration(amount) * time.Hour, nil
	default:
		return 0, fmt.Errorf("wait: unknown unit %q", unit)
	}
}

func intParam(rendered map[string]interface{}, key string, def int) int {
	switch v := rendered[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Register adds the wait action under the "wait" integration.
func Register(r *action.Registry) error {
	return r.Register(action.Descriptor{
		IntegrationName: "wait",
		ActionName:      "wait",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{},
	})
}
