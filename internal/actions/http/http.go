// Package http implements the outbound HTTP request action. Grounded on
// internal/node/runtime/nodes/http_request.go's method/url/headers/body
// handling and its four authentication modes, reworked to report
// failures via action.Result.Err (routed to a connected "error" port by
// the graph executor, spec §4.6) rather than the teacher's
// output.Error-as-data convention. stdlib net/http: no pack example
// wraps outbound HTTP calls in a third-party client for simple
// request/response actions.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prana-run/prana/internal/action"
)

// Action performs one HTTP request per invocation.
type Action struct {
	action.NopPrepare
	action.NopResume

	Client *http.Client
}

func (a Action) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	method := stringOr(rendered["method"], "GET")
	rawURL, _ := rendered["url"].(string)
	if rawURL == "" {
		return action.Result{}, fmt.Errorf("http: url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return action.FailedOnPort(fmt.Errorf("http: invalid url: %w", err), nil, "error"), nil
	}

	if qp, ok := rendered["query_params"].(map[string]interface{}); ok && len(qp) > 0 {
		q := parsed.Query()
		for k, v := range qp {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		parsed.RawQuery = q.Encode()
	}

	bodyReader, contentType, err := buildBody(method, rendered)
	if err != nil {
		return action.FailedOnPort(err, nil, "error"), nil
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), bodyReader)
	if err != nil {
		return action.FailedOnPort(fmt.Errorf("http: building request: %w", err), nil, "error"), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := rendered["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	applyAuthentication(req, rendered)

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if t, ok := rendered["timeout_seconds"]; ok {
		client.Timeout = time.Duration(toInt(t, 30)) * time.Second
	}

	resp, err := client.Do(req)
	if err != nil {
		return action.FailedOnPort(fmt.Errorf("http: request failed: %w", err), nil, "error"), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return action.FailedOnPort(fmt.Errorf("http: reading response: %w", err), nil, "error"), nil
	}

	responseData := parseResponseBody(respBody, resp.Header.Get("Content-Type"), stringOr(rendered["response_type"], "auto"))

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	data := map[string]interface{}{
		"status_code": resp.StatusCode,
		"status":      resp.Status,
		"headers":     headers,
		"body":        responseData,
		"ok":          resp.StatusCode >= 200 && resp.StatusCode < 300,
	}

	if resp.StatusCode >= 400 {
		return action.FailedOnPort(fmt.Errorf("http: unexpected status %d", resp.StatusCode), data, "error"), nil
	}
	return action.Completed(data), nil
}

func buildBody(method string, rendered map[string]interface{}) (io.Reader, string, error) {
	body := rendered["body"]
	if body == nil || (method != "POST" && method != "PUT" && method != "PATCH") {
		return nil, "", nil
	}
	switch stringOr(rendered["body_type"], "json") {
	case "json":
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("http: marshaling json body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	case "form", "urlencoded":
		values := url.Values{}
		if m, ok := body.(map[string]interface{}); ok {
			for k, v := range m {
				values.Set(k, fmt.Sprintf("%v", v))
			}
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
	case "raw":
		return strings.NewReader(fmt.Sprintf("%v", body)), "text/plain", nil
	default:
		return nil, "", fmt.Errorf("http: unknown body_type %q", rendered["body_type"])
	}
}

func parseResponseBody(body []byte, contentTypeHeader, responseType string) interface{} {
	if responseType == "auto" {
		switch {
		case strings.Contains(contentTypeHeader, "application/json"):
			responseType = "json"
		case strings.Contains(contentTypeHeader, "text/"):
			responseType = "text"
		default:
			responseType = "text"
		}
	}
	switch responseType {
	case "json":
		var parsed interface{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return string(body)
		}
		return parsed
	default:
		return string(body)
	}
}

func applyAuthentication(req *http.Request, rendered map[string]interface{}) {
	switch stringOr(rendered["authentication"], "none") {
	case "basic":
		req.SetBasicAuth(stringOr(rendered["basic_auth_user"], ""), stringOr(rendered["basic_auth_password"], ""))
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringOr(rendered["bearer_token"], ""))
	case "api_key":
		name := stringOr(rendered["api_key_name"], "X-API-Key")
		value := stringOr(rendered["api_key_value"], "")
		if stringOr(rendered["api_key_location"], "header") == "query" {
			q := req.URL.Query()
			q.Set(name, value)
			req.URL.RawQuery = q.Encode()
			return
		}
		req.Header.Set(name, value)
	}
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func toInt(v interface{}, def int) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	default:
		return def
	}
}

// Register adds the HTTP request action under the "http" integration.
func Register(r *action.Registry) error {
	return r.Register(action.Descriptor{
		IntegrationName: "http",
		ActionName:      "request",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success", "error"},
		Action:          Action{},
	})
}
