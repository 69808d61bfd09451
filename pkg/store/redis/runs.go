package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// CreateRun stores a queued run document in the graph's run partition
// and registers it in both the partition and the global run index.
func (s *Store) CreateRun(ctx context.Context, g *graph.Graph) (*graph.Run, error) {
	run := &graph.Run{
		ID:          uuid.NewString(),
		GraphID:     g.ID,
		TenantID:    g.TenantID,
		WorkspaceID: g.WorkspaceID,
		Status:      graph.RunQueued,
		Outputs:     map[string]any{},
		Trace:       []graph.TraceEntry{},
		CreatedAt:   nowUTC(),
	}

	key := runKey(run.GraphID, run.ID)
	if err := s.setDoc(ctx, key, run); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, graphRunsSet(run.GraphID), key).Err(); err != nil {
		return nil, fmt.Errorf("failed to SADD %s: %w", graphRunsSet(run.GraphID), err)
	}
	if err := s.client.SAdd(ctx, runsSet, key).Err(); err != nil {
		return nil, fmt.Errorf("failed to SADD %s: %w", runsSet, err)
	}
	return run, nil
}

// UpdateRun fetches the run document, applies the status change and
// replaces the whole document.
func (s *Store) UpdateRun(ctx context.Context, runID string, status graph.RunStatus, result *graph.Result, errMsg string) (*graph.Run, error) {
	key, err := s.findKey(ctx, runsSet, runID)
	if err != nil {
		return nil, err
	}
	var run graph.Run
	if err := s.getDoc(ctx, key, &run); err != nil {
		return nil, err
	}

	run.Status = status
	if result != nil {
		run.Outputs = result.Outputs
		run.Trace = result.Trace
		run.Error = result.Error
	}
	if errMsg != "" {
		run.Error = errMsg
	}
	if status.IsTerminal() {
		now := nowUTC()
		run.CompletedAt = &now
	}
	if run.Outputs == nil {
		run.Outputs = map[string]any{}
	}
	if run.Trace == nil {
		run.Trace = []graph.TraceEntry{}
	}

	if err := s.setDoc(ctx, key, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun performs a cross-partition point lookup by run id.
func (s *Store) GetRun(ctx context.Context, runID string) (*graph.Run, error) {
	key, err := s.findKey(ctx, runsSet, runID)
	if err != nil {
		return nil, err
	}
	var run graph.Run
	if err := s.getDoc(ctx, key, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns reads the graph's run partition, newest first.
func (s *Store) ListRuns(ctx context.Context, graphID string, limit int) ([]*graph.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := mgetDocs[graph.Run](ctx, s, graphRunsSet(graphID))
	if err != nil {
		return nil, err
	}
	sortRunsByCreated(runs)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// CountActiveRuns scans the global run index and counts queued+running
// documents owned by the tenant/workspace pair. The run documents
// carry their owner, so no graph lookup is needed.
func (s *Store) CountActiveRuns(ctx context.Context, tenantID, workspaceID string) (int, error) {
	runs, err := mgetDocs[graph.Run](ctx, s, runsSet)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, run := range runs {
		if run.TenantID != tenantID || run.WorkspaceID != workspaceID {
			continue
		}
		if run.Status == graph.RunQueued || run.Status == graph.RunRunning {
			count++
		}
	}
	return count, nil
}
