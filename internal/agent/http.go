package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPCaller invokes agents hosted behind an HTTP gateway.
type HTTPCaller struct {
	client *resty.Client
}

// NewHTTPCaller creates a caller posting to {baseURL}/agents/{id}/invoke.
// An empty token sends no Authorization header.
func NewHTTPCaller(baseURL, token string, timeout time.Duration) *HTTPCaller {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPCaller{client: client}
}

type invokeRequest struct {
	Message string `json:"message"`
}

// Call sends message to the agent. Non-2xx replies are reported as an
// unsuccessful Result carrying the response body.
func (c *HTTPCaller) Call(ctx context.Context, message, agentID string) (*Result, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", agentID).
		SetBody(invokeRequest{Message: message}).
		Post("/agents/{id}/invoke")
	if err != nil {
		return nil, fmt.Errorf("calling agent %s: %w", agentID, err)
	}

	body := resp.Body()
	if resp.IsError() {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("agent %s returned %d: %s", agentID, resp.StatusCode(), strings.TrimSpace(string(body))),
		}, nil
	}
	return decodeResult(body), nil
}

// decodeResult accepts either a full {success, response, error} envelope or
// any other body, which becomes the response of a successful call.
func decodeResult(body []byte) *Result {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return &Result{Success: true, Response: string(body)}
	}

	if m, ok := decoded.(map[string]any); ok {
		if success, ok := m["success"].(bool); ok {
			r := &Result{Success: success, Response: m["response"], Raw: m}
			if r.Response == nil {
				r.Response = m["result"]
			}
			if e, ok := m["error"].(string); ok {
				r.Error = e
			}
			if !success && r.Error == "" {
				r.Error = "agent reported failure"
			}
			return r
		}
		return &Result{Success: true, Response: m, Raw: m}
	}
	return &Result{Success: true, Response: decoded}
}
