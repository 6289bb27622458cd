package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"urproxy/internal/shared/types"
)

// AgentClient talks to a running agent's local RPC endpoint.
type AgentClient struct {
	resty *resty.Client
}

// NewAgentClient creates a client for the agent at baseURL. user and
// password are sent as basic auth when both are set.
func NewAgentClient(baseURL, user, password string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if user != "" && password != "" {
		r.SetBasicAuth(user, password)
	}
	return &AgentClient{resty: r}
}

// Send posts msg to /api/message. A failed RPC is not an error here: it
// comes back as a Response with Success false.
func (c *AgentClient) Send(ctx context.Context, msg types.Message) (*types.Response, error) {
	var out types.Response
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&out).
		SetError(&out).
		Post("/api/message")
	if err != nil {
		return nil, fmt.Errorf("agent unreachable: %w", err)
	}
	if resp.IsError() && out.Error == "" {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.Status()}
	}
	return &out, nil
}

// Status fetches GET /api/status as raw JSON-decoded fields.
func (c *AgentClient) Status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.resty.R().SetContext(ctx).SetResult(&out).Get("/api/status")
	if err != nil {
		return nil, fmt.Errorf("agent unreachable: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.Status()}
	}
	return out, nil
}
