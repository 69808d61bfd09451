package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
)

// ListGraphs enumerates the graph index and filters client-side; the
// document layout has no secondary query engine, so range queries are
// an index scan plus MGET.
func (s *Store) ListGraphs(ctx context.Context, filter store.GraphFilter) ([]*graph.Graph, error) {
	graphs, err := mgetDocs[graph.Graph](ctx, s, graphsSet)
	if err != nil {
		return nil, err
	}

	filtered := graphs[:0]
	for _, g := range graphs {
		if filter.TenantID != "" && g.TenantID != filter.TenantID {
			continue
		}
		if filter.WorkspaceID != "" && g.WorkspaceID != filter.WorkspaceID {
			continue
		}
		filtered = append(filtered, g)
	}
	sortGraphsByUpdated(filtered)
	return filtered, nil
}

// CreateGraph stores a new graph document under its composite
// partition key and registers it in the graph index.
func (s *Store) CreateGraph(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	now := nowUTC()
	stored := *g
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	key := graphKey(stored.TenantID, stored.WorkspaceID, stored.ID)
	if err := s.setDoc(ctx, key, &stored); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, graphsSet, key).Err(); err != nil {
		return nil, fmt.Errorf("failed to SADD %s: %w", graphsSet, err)
	}
	return &stored, nil
}

// GetGraph performs a cross-partition point lookup by graph id.
func (s *Store) GetGraph(ctx context.Context, graphID string) (*graph.Graph, error) {
	key, err := s.findKey(ctx, graphsSet, graphID)
	if err != nil {
		return nil, err
	}
	var g graph.Graph
	if err := s.getDoc(ctx, key, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateGraph replaces the whole graph document and bumps updated_at.
// When the update moves the graph to a different tenant or workspace
// the document migrates to a new partition key.
func (s *Store) UpdateGraph(ctx context.Context, graphID string, g *graph.Graph) (*graph.Graph, error) {
	current, err := s.GetGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}

	updated := *g
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = nowUTC()

	oldKey := graphKey(current.TenantID, current.WorkspaceID, current.ID)
	newKey := graphKey(updated.TenantID, updated.WorkspaceID, updated.ID)
	if err := s.setDoc(ctx, newKey, &updated); err != nil {
		return nil, err
	}
	if newKey != oldKey {
		if err := s.client.Del(ctx, oldKey).Err(); err != nil {
			return nil, fmt.Errorf("failed to DEL %s: %w", oldKey, err)
		}
		if err := s.client.SRem(ctx, graphsSet, oldKey).Err(); err != nil {
			return nil, fmt.Errorf("failed to SREM %s: %w", graphsSet, err)
		}
	}
	if err := s.client.SAdd(ctx, graphsSet, newKey).Err(); err != nil {
		return nil, fmt.Errorf("failed to SADD %s: %w", graphsSet, err)
	}
	return &updated, nil
}

// DeleteGraph queries and deletes every dependent run document, then
// deletes the graph document itself.
func (s *Store) DeleteGraph(ctx context.Context, graphID string) error {
	key, err := s.findKey(ctx, graphsSet, graphID)
	if err != nil {
		return err
	}

	if err := s.deleteRunsForGraph(ctx, graphID); err != nil {
		return err
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to DEL %s: %w", key, err)
	}
	if err := s.client.SRem(ctx, graphsSet, key).Err(); err != nil {
		return fmt.Errorf("failed to SREM %s: %w", graphsSet, err)
	}
	return nil
}

// deleteRunsForGraph is the cross-partition fan-out: every run key in
// the graph's partition is removed from both indexes and deleted.
func (s *Store) deleteRunsForGraph(ctx context.Context, graphID string) error {
	partition := graphRunsSet(graphID)
	keys, err := s.client.SMembers(ctx, partition).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s: %w", partition, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to DEL run keys: %w", err)
		}
		if err := s.client.SRem(ctx, runsSet, toAnySlice(keys)...).Err(); err != nil {
			return fmt.Errorf("failed to SREM %s: %w", runsSet, err)
		}
	}
	if err := s.client.Del(ctx, partition).Err(); err != nil {
		return fmt.Errorf("failed to DEL %s: %w", partition, err)
	}
	return nil
}

func toAnySlice(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
