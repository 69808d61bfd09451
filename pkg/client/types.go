package client

import (
	"fmt"
	"net/http"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// GraphSpec is the payload for creating or replacing a graph. The node
// and edge lists are stored verbatim by the service.
type GraphSpec struct {
	Name        string          `json:"name"`
	TenantID    string          `json:"tenant_id"`
	WorkspaceID string          `json:"workspace_id"`
	Nodes       []graph.Node    `json:"nodes"`
	Edges       []graph.Edge    `json:"edges"`
	Metadata    *graph.Metadata `json:"metadata,omitempty"`
}

// Overrides maps node id to a per-run partial props patch.
type Overrides map[string]map[string]any

// Status is the health check response.
type Status struct {
	Status string `json:"status"`
}

// APIError is a non-2xx response from the service, carrying the status
// code and the error body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elementd: %s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether the error is a 404 from the service.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether the error is a transient rejection: the
// workspace admission ceiling (429) or a full execution backlog (503).
func IsRetryable(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests ||
		apiErr.StatusCode == http.StatusServiceUnavailable
}
