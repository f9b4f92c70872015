// Package slackwebhook posts a message to a Slack incoming webhook
// URL. Grounded on internal/node/runtime/nodes/slack_node.go's
// sendWebhook operation (JSON payload with text/blocks/attachments,
// plain POST, status-code-200 success check); the bot-token API
// operations (sendMessage, updateMessage, getUser, ...) are not
// carried over since Slack has no official Go SDK in the pack and the
// webhook path covers the common "notify a channel" case without
// needing a stored bot token.
package slackwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prana-run/prana/internal/action"
)

// Action posts a message payload to a Slack incoming webhook.
type Action struct {
	action.NopPrepare
	action.NopResume

	Client *http.Client
}

func (a Action) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	webhookURL, _ := rendered["webhook_url"].(string)
	if webhookURL == "" {
		return action.Result{}, fmt.Errorf("slackwebhook: webhook_url is required")
	}

	payload := map[string]interface{}{
		"text": rendered["text"],
	}
	if blocks := rendered["blocks"]; blocks != nil {
		payload["blocks"] = blocks
	}
	if attachments := rendered["attachments"]; attachments != nil {
		payload["attachments"] = attachments
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return action.Result{}, fmt.Errorf("slackwebhook: marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return action.Result{}, fmt.Errorf("slackwebhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return action.Result{}, fmt.Errorf("slackwebhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	data := map[string]interface{}{
		"ok":          resp.StatusCode == http.StatusOK,
		"status_code": resp.StatusCode,
		"response":    string(respBody),
	}

	if resp.StatusCode != http.StatusOK {
		return action.FailedOnPort(fmt.Errorf("slackwebhook: webhook returned %d", resp.StatusCode), data, "error"), nil
	}
	return action.Completed(data), nil
}

// Register adds the Slack webhook action under the "slack" integration.
func Register(r *action.Registry) error {
	return r.Register(action.Descriptor{
		IntegrationName: "slack",
		ActionName:      "webhook",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success", "error"},
		Action:          Action{},
	})
}
