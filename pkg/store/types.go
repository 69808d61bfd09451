package store

import (
	"context"
	"errors"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// ErrNotFound is returned when a graph or run id resolves to nothing.
var ErrNotFound = errors.New("not found")

// GraphFilter narrows ListGraphs to a tenant and/or workspace. Empty
// fields match everything.
type GraphFilter struct {
	TenantID    string
	WorkspaceID string
}

// Repository is the storage contract for graph definitions and runs.
// Two implementations satisfy it: the single-writer SQLite store in
// this package and the partitioned Redis document store in the redis
// subpackage. Callers select a backend at startup and depend only on
// this interface; behavior must be identical either way.
type Repository interface {
	// ListGraphs returns graphs matching the filter, most recently
	// updated first.
	ListGraphs(ctx context.Context, filter GraphFilter) ([]*graph.Graph, error)

	// CreateGraph persists a new graph, assigning its id and
	// timestamps, and returns the stored form.
	CreateGraph(ctx context.Context, g *graph.Graph) (*graph.Graph, error)

	// GetGraph returns the graph or ErrNotFound.
	GetGraph(ctx context.Context, graphID string) (*graph.Graph, error)

	// UpdateGraph fully replaces the graph's name, ownership,
	// nodes, edges and metadata and bumps updated_at. Partial
	// patches are not supported. Returns ErrNotFound if missing.
	UpdateGraph(ctx context.Context, graphID string, g *graph.Graph) (*graph.Graph, error)

	// DeleteGraph deletes the graph after deleting every run that
	// belongs to it. Returns ErrNotFound if missing.
	DeleteGraph(ctx context.Context, graphID string) error

	// CreateRun records a new run for the graph in status queued.
	CreateRun(ctx context.Context, g *graph.Graph) (*graph.Run, error)

	// UpdateRun moves the run to the given status, storing the
	// execution result or error message when present. completed_at
	// is set once the status is terminal. Returns ErrNotFound if
	// missing.
	UpdateRun(ctx context.Context, runID string, status graph.RunStatus, result *graph.Result, errMsg string) (*graph.Run, error)

	// GetRun returns the run or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*graph.Run, error)

	// ListRuns returns up to limit runs for the graph, newest first.
	ListRuns(ctx context.Context, graphID string, limit int) ([]*graph.Run, error)

	// CountActiveRuns counts runs in status queued or running
	// across all graphs owned by the tenant/workspace pair. This is
	// the admission-control input.
	CountActiveRuns(ctx context.Context, tenantID, workspaceID string) (int, error)

	// Close releases the underlying connection or session.
	Close() error
}
