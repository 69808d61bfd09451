package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
	"github.com/rmax-ai/elementd/pkg/store/storetest"
)

func newRedisRepo(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewStore(client)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return s, mr
}

func TestRedisRepository(t *testing.T) {
	storetest.RunRepositoryTests(t, func(t *testing.T) store.Repository {
		s, _ := newRedisRepo(t)
		return s
	})
}

// TestKeyLayout pins the partitioned document layout: graph documents
// under the composite tenant/workspace prefix, run documents under the
// graph-id prefix, and set indexes for both.
func TestKeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisRepo(t)

	g, err := s.CreateGraph(ctx, &graph.Graph{
		Name:        "demo",
		TenantID:    "tenant-a",
		WorkspaceID: "ws-1",
		Nodes:       []graph.Node{{ID: "prompt", Type: "prompt", Label: "Prompt"}},
		Edges:       []graph.Edge{},
	})
	if err != nil {
		t.Fatalf("CreateGraph failed: %v", err)
	}

	graphDocKey := "elements:graph:tenant-a:ws-1:" + g.ID
	if !mr.Exists(graphDocKey) {
		t.Errorf("expected graph document at %s", graphDocKey)
	}
	members, err := mr.SMembers(graphsSet)
	if err != nil {
		t.Fatalf("failed to read graph index: %v", err)
	}
	if len(members) != 1 || members[0] != graphDocKey {
		t.Errorf("graph index mismatch: %v", members)
	}

	run, err := s.CreateRun(ctx, g)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	runDocKey := "elements:run:" + g.ID + ":" + run.ID
	if !mr.Exists(runDocKey) {
		t.Errorf("expected run document at %s", runDocKey)
	}
	if !mr.Exists(graphRunsSet(g.ID)) {
		t.Errorf("expected run partition index %s", graphRunsSet(g.ID))
	}

	// Cascade delete empties the partition and both indexes.
	if err := s.DeleteGraph(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGraph failed: %v", err)
	}
	for _, key := range []string{graphDocKey, runDocKey, graphRunsSet(g.ID)} {
		if mr.Exists(key) {
			t.Errorf("expected %s to be deleted", key)
		}
	}
}

// TestUpdateGraphMovesPartition covers ownership changes: the document
// must migrate to the new composite key and the stale key must vanish.
func TestUpdateGraphMovesPartition(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisRepo(t)

	g, err := s.CreateGraph(ctx, &graph.Graph{
		Name:        "demo",
		TenantID:    "tenant-a",
		WorkspaceID: "ws-1",
		Nodes:       []graph.Node{{ID: "prompt", Type: "prompt", Label: "Prompt"}},
		Edges:       []graph.Edge{},
	})
	if err != nil {
		t.Fatalf("CreateGraph failed: %v", err)
	}

	moved := *g
	moved.WorkspaceID = "ws-2"
	if _, err := s.UpdateGraph(ctx, g.ID, &moved); err != nil {
		t.Fatalf("UpdateGraph failed: %v", err)
	}

	oldKey := "elements:graph:tenant-a:ws-1:" + g.ID
	newKey := "elements:graph:tenant-a:ws-2:" + g.ID
	if mr.Exists(oldKey) {
		t.Errorf("stale document left at %s", oldKey)
	}
	if !mr.Exists(newKey) {
		t.Errorf("expected migrated document at %s", newKey)
	}

	got, err := s.GetGraph(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGraph after move failed: %v", err)
	}
	if got.WorkspaceID != "ws-2" {
		t.Errorf("expected migrated workspace, got %s", got.WorkspaceID)
	}
}
