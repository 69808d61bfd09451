package api

import (
	"github.com/rmax-ai/elementd/pkg/graph"
)

// GraphRequest matches the POST/PUT /v1/graphs body schema. The node
// and edge payload is stored verbatim; edges are only validated when
// the graph is executed.
type GraphRequest struct {
	Name        string          `json:"name"`
	TenantID    string          `json:"tenant_id"`
	WorkspaceID string          `json:"workspace_id"`
	Nodes       []graph.Node    `json:"nodes"`
	Edges       []graph.Edge    `json:"edges"`
	Metadata    *graph.Metadata `json:"metadata,omitempty"`
}

// NodeOverride carries a per-run partial props patch for one node.
type NodeOverride struct {
	Props map[string]any `json:"props"`
}

// ExecuteRequest matches the POST /v1/graphs/{id}/execute body schema.
type ExecuteRequest struct {
	Overrides map[string]NodeOverride `json:"overrides,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
