package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// Client is the elementd SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	retry    RetryPolicy
}

// NewClient creates a new elementd client.
// endpoint defaults to "http://127.0.0.1:8091" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8091"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: DefaultRetryPolicy(),
	}
}

// SetRetryPolicy replaces the policy used by ExecuteWithRetry.
func (c *Client) SetRetryPolicy(policy RetryPolicy) {
	c.retry = policy
}

// Ping checks the health of the service.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.call(ctx, http.MethodGet, "/v1/health", nil, &status)
	return status, err
}

// CreateGraph stores a new graph and returns it with its assigned id.
func (c *Client) CreateGraph(ctx context.Context, spec GraphSpec) (*graph.Graph, error) {
	var g graph.Graph
	if err := c.call(ctx, http.MethodPost, "/v1/graphs", spec, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGraph fetches a graph by id.
func (c *Client) GetGraph(ctx context.Context, graphID string) (*graph.Graph, error) {
	var g graph.Graph
	if err := c.call(ctx, http.MethodGet, "/v1/graphs/"+graphID, nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGraphs fetches graphs, optionally filtered by tenant and
// workspace. Empty filter values match everything.
func (c *Client) ListGraphs(ctx context.Context, tenantID, workspaceID string) ([]*graph.Graph, error) {
	query := url.Values{}
	if tenantID != "" {
		query.Set("tenant_id", tenantID)
	}
	if workspaceID != "" {
		query.Set("workspace_id", workspaceID)
	}
	path := "/v1/graphs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var graphs []*graph.Graph
	if err := c.call(ctx, http.MethodGet, path, nil, &graphs); err != nil {
		return nil, err
	}
	return graphs, nil
}

// UpdateGraph replaces a graph's definition.
func (c *Client) UpdateGraph(ctx context.Context, graphID string, spec GraphSpec) (*graph.Graph, error) {
	var g graph.Graph
	if err := c.call(ctx, http.MethodPut, "/v1/graphs/"+graphID, spec, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGraph removes a graph and all of its runs.
func (c *Client) DeleteGraph(ctx context.Context, graphID string) error {
	return c.call(ctx, http.MethodDelete, "/v1/graphs/"+graphID, nil, nil)
}

// Execute asks the service to run a graph and returns the accepted run,
// still in queued state. Overrides may be nil.
func (c *Client) Execute(ctx context.Context, graphID string, overrides Overrides) (*graph.Run, error) {
	body := map[string]any{}
	if len(overrides) > 0 {
		wrapped := make(map[string]map[string]any, len(overrides))
		for nodeID, props := range overrides {
			wrapped[nodeID] = map[string]any{"props": props}
		}
		body["overrides"] = wrapped
	}
	var run graph.Run
	if err := c.call(ctx, http.MethodPost, "/v1/graphs/"+graphID+"/execute", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ExecuteWithRetry is Execute with backoff on transient rejections: the
// admission ceiling (429) and a full backlog (503). Other errors and
// context cancellation end the retry loop immediately. maxAttempts <= 0
// uses the retry policy's bound.
func (c *Client) ExecuteWithRetry(ctx context.Context, graphID string, overrides Overrides, maxAttempts int) (*graph.Run, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.retry.MaxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		run, err := c.Execute(ctx, graphID, overrides)
		if err == nil {
			return run, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		select {
		case <-time.After(c.retry.Delay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (*graph.Run, error) {
	var run graph.Run
	if err := c.call(ctx, http.MethodGet, "/v1/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns fetches the most recent runs of a graph, newest first.
// limit <= 0 uses the service default.
func (c *Client) ListRuns(ctx context.Context, graphID string, limit int) ([]*graph.Run, error) {
	path := "/v1/graphs/" + graphID + "/runs"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var runs []*graph.Run
	if err := c.call(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// WaitForRun polls a run until it reaches a terminal state or the
// context is done.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (*graph.Run, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// call performs one request/response round trip. A nil out skips body
// decoding; non-2xx statuses surface as *APIError.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		message := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error != "" {
			message = errBody.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
