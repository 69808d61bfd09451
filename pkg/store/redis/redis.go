// Package redis implements the graph repository on a partitioned Redis
// document layout. Graph documents live under a composite
// (tenant, workspace) key prefix and run documents under a graph-id
// prefix; set indexes make each partition enumerable. There is no
// partial-field patch primitive: every update is a full document
// replacement, and graph deletion fans out across the run partition
// before removing the graph document.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
)

const (
	graphsSet = "elements:graphs"
	runsSet   = "elements:runs"
)

// Store is the Redis-backed repository.
type Store struct {
	client *redis.Client
}

// NewStore wraps an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func graphKey(tenantID, workspaceID, graphID string) string {
	return fmt.Sprintf("elements:graph:%s:%s:%s", tenantID, workspaceID, graphID)
}

func runKey(graphID, runID string) string {
	return fmt.Sprintf("elements:run:%s:%s", graphID, runID)
}

func graphRunsSet(graphID string) string {
	return "elements:runs:" + graphID
}

// findKey locates a document key by bare id within an index set. This
// is the cross-partition point lookup: the partition component of the
// key is unknown, so the index is scanned for the ":<id>" suffix.
func (s *Store) findKey(ctx context.Context, indexSet, id string) (string, error) {
	keys, err := s.client.SMembers(ctx, indexSet).Result()
	if err != nil {
		return "", fmt.Errorf("failed to SMEMBERS %s: %w", indexSet, err)
	}
	suffix := ":" + id
	for _, key := range keys {
		if strings.HasSuffix(key, suffix) {
			return key, nil
		}
	}
	return "", store.ErrNotFound
}

// getDoc fetches and unmarshals a JSON document.
func (s *Store) getDoc(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to GET %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", key, err)
	}
	return nil
}

// setDoc marshals and stores a JSON document (full replacement).
func (s *Store) setDoc(ctx context.Context, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to SET %s: %w", key, err)
	}
	return nil
}

// mgetDocs fetches every document named by the keys of an index set,
// decoding each into T. Keys that vanished between SMEMBERS and MGET
// are skipped.
func mgetDocs[T any](ctx context.Context, s *Store, indexSet string) ([]*T, error) {
	keys, err := s.client.SMembers(ctx, indexSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to SMEMBERS %s: %w", indexSet, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET keys: %w", err)
	}
	docs := make([]*T, 0, len(values))
	for i, val := range values {
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("MGET returned non-string for key %s", keys[i])
		}
		var doc T
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %s: %w", keys[i], err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func sortGraphsByUpdated(graphs []*graph.Graph) {
	sort.Slice(graphs, func(i, j int) bool {
		if graphs[i].UpdatedAt.Equal(graphs[j].UpdatedAt) {
			return graphs[i].ID < graphs[j].ID
		}
		return graphs[i].UpdatedAt.After(graphs[j].UpdatedAt)
	})
}

func sortRunsByCreated(runs []*graph.Run) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
