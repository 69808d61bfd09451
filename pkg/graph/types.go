package graph

import (
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status is final. Transitions are
// monotonic: queued -> running -> succeeded|failed, nothing else.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Endpoint identifies one side of an edge: a node and one of its ports.
type Endpoint struct {
	Node string `json:"node"`
	Port string `json:"port"`
}

// Edge is a directed connection from a source node's output port to a
// target node's input port. Multiple edges may target the same input
// port; the edge later in declaration order wins.
type Edge struct {
	ID     string   `json:"id"`
	Source Endpoint `json:"from"`
	Target Endpoint `json:"to"`
}

// Node is a typed unit of work. Props is an opaque key/value bag
// interpreted by the node's handler.
type Node struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Label    string             `json:"label"`
	Props    map[string]any     `json:"props,omitempty"`
	Position map[string]float64 `json:"position,omitempty"`
}

// Metadata carries free-form annotations attached to a graph.
type Metadata struct {
	Tags      []string `json:"tags,omitempty"`
	CreatedBy string   `json:"created_by,omitempty"`
}

// Graph is a tenant-owned directed graph of nodes and edges. Mutation
// is full replacement of nodes/edges/metadata plus an updated_at bump,
// never a partial patch. Edges may dangle in storage; they are only
// validated at execution time.
type Graph struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TenantID    string    `json:"tenant_id"`
	WorkspaceID string    `json:"workspace_id"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TraceEntry records one executed node: the inputs it resolved, the
// outputs it produced and the effective (override-merged) props.
type TraceEntry struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Inputs  map[string]any `json:"inputs"`
	Outputs map[string]any `json:"outputs"`
	Props   map[string]any `json:"props"`
}

// Result is the outcome of executing a graph. Outputs is the output
// map of the last node in topological order; intermediate values are
// only visible through the trace.
type Result struct {
	Status  RunStatus      `json:"status"`
	Outputs map[string]any `json:"outputs"`
	Trace   []TraceEntry   `json:"trace"`
	Error   string         `json:"error,omitempty"`
}

// Run is one execution attempt of a graph. It has its own lifecycle
// and outlives nothing: deleting the owning graph cascades to its runs.
type Run struct {
	ID          string         `json:"id"`
	GraphID     string         `json:"graph_id"`
	TenantID    string         `json:"tenant_id"`
	WorkspaceID string         `json:"workspace_id"`
	Status      RunStatus      `json:"status"`
	Outputs     map[string]any `json:"outputs"`
	Trace       []TraceEntry   `json:"trace"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Overrides maps node id to a partial props patch merged shallowly
// over the stored props for a single run. Never persisted back into
// the graph definition.
type Overrides map[string]map[string]any

// MergeProps returns stored props with the override's keys replacing
// matching stored keys. Neither input map is mutated.
func MergeProps(stored, override map[string]any) map[string]any {
	merged := make(map[string]any, len(stored)+len(override))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
