// Package storetest holds the repository property suite. Both storage
// backends must pass it unchanged: callers select a backend by
// configuration, so any observable behavioral difference between the
// two is a bug.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
)

// Factory returns a fresh, empty repository for one subtest.
type Factory func(t *testing.T) store.Repository

// RunRepositoryTests runs the shared contract suite against a backend.
func RunRepositoryTests(t *testing.T, newRepo Factory) {
	ctx := context.Background()

	t.Run("CreateAndGetGraph", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateGraph(ctx, sampleGraph("demo", "tenant-a", "ws-1"))
		if err != nil {
			t.Fatalf("CreateGraph failed: %v", err)
		}
		if created.ID == "" {
			t.Error("expected assigned graph id")
		}
		if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
			t.Error("expected timestamps to be set")
		}

		got, err := repo.GetGraph(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetGraph failed: %v", err)
		}
		if got.Name != "demo" || got.TenantID != "tenant-a" || got.WorkspaceID != "ws-1" {
			t.Errorf("unexpected graph identity: %+v", got)
		}
		if len(got.Nodes) != 3 || len(got.Edges) != 2 {
			t.Errorf("expected 3 nodes / 2 edges, got %d / %d", len(got.Nodes), len(got.Edges))
		}
		if got.Nodes[0].Props["text"] != "Hello" {
			t.Errorf("node props not preserved: %+v", got.Nodes[0].Props)
		}
		if got.Edges[0].Source.Port != "text" || got.Edges[0].Target.Port != "prompt" {
			t.Errorf("edge ports not preserved: %+v", got.Edges[0])
		}
	})

	t.Run("GetGraphNotFound", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.GetGraph(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListGraphsFilter", func(t *testing.T) {
		repo := newRepo(t)
		mustCreateGraph(t, repo, "g1", "tenant-a", "ws-1")
		mustCreateGraph(t, repo, "g2", "tenant-a", "ws-2")
		mustCreateGraph(t, repo, "g3", "tenant-b", "ws-1")

		all, err := repo.ListGraphs(ctx, store.GraphFilter{})
		if err != nil {
			t.Fatalf("ListGraphs failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 graphs, got %d", len(all))
		}

		tenantA, err := repo.ListGraphs(ctx, store.GraphFilter{TenantID: "tenant-a"})
		if err != nil {
			t.Fatalf("ListGraphs failed: %v", err)
		}
		if len(tenantA) != 2 {
			t.Errorf("expected 2 tenant-a graphs, got %d", len(tenantA))
		}

		scoped, err := repo.ListGraphs(ctx, store.GraphFilter{TenantID: "tenant-a", WorkspaceID: "ws-2"})
		if err != nil {
			t.Fatalf("ListGraphs failed: %v", err)
		}
		if len(scoped) != 1 || scoped[0].Name != "g2" {
			t.Errorf("expected only g2, got %+v", scoped)
		}
	})

	t.Run("ListGraphsOrdersByUpdated", func(t *testing.T) {
		repo := newRepo(t)
		first := mustCreateGraph(t, repo, "first", "tenant-a", "ws-1")
		time.Sleep(5 * time.Millisecond)
		mustCreateGraph(t, repo, "second", "tenant-a", "ws-1")
		time.Sleep(5 * time.Millisecond)

		// Touching the older graph moves it to the front.
		if _, err := repo.UpdateGraph(ctx, first.ID, sampleGraph("first", "tenant-a", "ws-1")); err != nil {
			t.Fatalf("UpdateGraph failed: %v", err)
		}
		listed, err := repo.ListGraphs(ctx, store.GraphFilter{})
		if err != nil {
			t.Fatalf("ListGraphs failed: %v", err)
		}
		if len(listed) != 2 || listed[0].Name != "first" {
			t.Errorf("expected updated graph first, got %+v", names(listed))
		}
	})

	t.Run("UpdateGraphReplacesDefinition", func(t *testing.T) {
		repo := newRepo(t)
		created := mustCreateGraph(t, repo, "demo", "tenant-a", "ws-1")

		replacement := &graph.Graph{
			Name:        "renamed",
			TenantID:    "tenant-a",
			WorkspaceID: "ws-1",
			Nodes:       []graph.Node{{ID: "solo", Type: "prompt", Label: "Solo", Props: map[string]any{"text": "bye"}}},
			Edges:       []graph.Edge{},
		}
		time.Sleep(5 * time.Millisecond)
		updated, err := repo.UpdateGraph(ctx, created.ID, replacement)
		if err != nil {
			t.Fatalf("UpdateGraph failed: %v", err)
		}
		if updated.Name != "renamed" {
			t.Errorf("expected renamed graph, got %q", updated.Name)
		}
		if len(updated.Nodes) != 1 || updated.Nodes[0].ID != "solo" {
			t.Errorf("expected full node replacement, got %+v", updated.Nodes)
		}
		if len(updated.Edges) != 0 {
			t.Errorf("expected edges replaced, got %+v", updated.Edges)
		}
		if !updated.UpdatedAt.After(created.UpdatedAt) {
			t.Errorf("expected updated_at bump: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
		}
	})

	t.Run("UpdateGraphNotFound", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.UpdateGraph(ctx, "nope", sampleGraph("x", "t", "w")); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		repo := newRepo(t)
		g := mustCreateGraph(t, repo, "demo", "tenant-a", "ws-1")

		run, err := repo.CreateRun(ctx, g)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if run.Status != graph.RunQueued {
			t.Errorf("expected queued run, got %s", run.Status)
		}
		if run.CompletedAt != nil {
			t.Error("queued run must not have completed_at")
		}
		if len(run.Outputs) != 0 || len(run.Trace) != 0 {
			t.Errorf("expected empty outputs/trace, got %+v / %+v", run.Outputs, run.Trace)
		}

		running, err := repo.UpdateRun(ctx, run.ID, graph.RunRunning, nil, "")
		if err != nil {
			t.Fatalf("UpdateRun(running) failed: %v", err)
		}
		if running.Status != graph.RunRunning || running.CompletedAt != nil {
			t.Errorf("running run must not be completed: %+v", running)
		}

		result := &graph.Result{
			Status:  graph.RunSucceeded,
			Outputs: map[string]any{"status": "queued"},
			Trace: []graph.TraceEntry{
				{ID: "prompt", Type: "prompt", Inputs: map[string]any{}, Outputs: map[string]any{"text": "Hello"}, Props: map[string]any{"text": "Hello"}},
			},
		}
		done, err := repo.UpdateRun(ctx, run.ID, graph.RunSucceeded, result, "")
		if err != nil {
			t.Fatalf("UpdateRun(succeeded) failed: %v", err)
		}
		if done.Status != graph.RunSucceeded {
			t.Errorf("expected succeeded, got %s", done.Status)
		}
		if done.CompletedAt == nil {
			t.Error("terminal run must have completed_at")
		}
		if done.Outputs["status"] != "queued" {
			t.Errorf("outputs not persisted: %+v", done.Outputs)
		}
		if len(done.Trace) != 1 || done.Trace[0].ID != "prompt" {
			t.Errorf("trace not persisted: %+v", done.Trace)
		}

		fetched, err := repo.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if fetched.Status != graph.RunSucceeded || fetched.Outputs["status"] != "queued" {
			t.Errorf("persisted run mismatch: %+v", fetched)
		}
	})

	t.Run("UpdateRunFailure", func(t *testing.T) {
		repo := newRepo(t)
		g := mustCreateGraph(t, repo, "demo", "tenant-a", "ws-1")
		run, err := repo.CreateRun(ctx, g)
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		failed, err := repo.UpdateRun(ctx, run.ID, graph.RunFailed, nil, "handler blew up")
		if err != nil {
			t.Fatalf("UpdateRun(failed) failed: %v", err)
		}
		if failed.Status != graph.RunFailed || failed.Error != "handler blew up" {
			t.Errorf("failure not recorded: %+v", failed)
		}
		if failed.CompletedAt == nil {
			t.Error("failed run must have completed_at")
		}
	})

	t.Run("UpdateRunNotFound", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.UpdateRun(ctx, "nope", graph.RunRunning, nil, ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CountActiveRuns", func(t *testing.T) {
		repo := newRepo(t)
		g1 := mustCreateGraph(t, repo, "g1", "tenant-a", "ws-1")
		g2 := mustCreateGraph(t, repo, "g2", "tenant-a", "ws-1")
		other := mustCreateGraph(t, repo, "g3", "tenant-a", "ws-2")

		count, err := repo.CountActiveRuns(ctx, "tenant-a", "ws-1")
		if err != nil {
			t.Fatalf("CountActiveRuns failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 active runs, got %d", count)
		}

		queued := mustCreateRun(t, repo, g1)
		running := mustCreateRun(t, repo, g2)
		if _, err := repo.UpdateRun(ctx, running.ID, graph.RunRunning, nil, ""); err != nil {
			t.Fatalf("UpdateRun failed: %v", err)
		}
		mustCreateRun(t, repo, other) // different workspace, must not count

		count, err = repo.CountActiveRuns(ctx, "tenant-a", "ws-1")
		if err != nil {
			t.Fatalf("CountActiveRuns failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 active runs across graphs, got %d", count)
		}

		// Terminal states free their slot.
		if _, err := repo.UpdateRun(ctx, queued.ID, graph.RunFailed, nil, "boom"); err != nil {
			t.Fatalf("UpdateRun failed: %v", err)
		}
		count, err = repo.CountActiveRuns(ctx, "tenant-a", "ws-1")
		if err != nil {
			t.Fatalf("CountActiveRuns failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 active run after failure, got %d", count)
		}
	})

	t.Run("ListRunsLimitAndOrder", func(t *testing.T) {
		repo := newRepo(t)
		g := mustCreateGraph(t, repo, "demo", "tenant-a", "ws-1")

		first := mustCreateRun(t, repo, g)
		time.Sleep(5 * time.Millisecond)
		mustCreateRun(t, repo, g)
		time.Sleep(5 * time.Millisecond)
		third := mustCreateRun(t, repo, g)

		runs, err := repo.ListRuns(ctx, g.ID, 2)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].ID != third.ID {
			t.Errorf("expected newest run first, got %s", runs[0].ID)
		}
		for _, run := range runs {
			if run.ID == first.ID {
				t.Error("oldest run should be cut off by the limit")
			}
		}
	})

	t.Run("DeleteGraphCascadesRuns", func(t *testing.T) {
		repo := newRepo(t)
		doomed := mustCreateGraph(t, repo, "doomed", "tenant-a", "ws-1")
		survivor := mustCreateGraph(t, repo, "survivor", "tenant-a", "ws-1")

		r1 := mustCreateRun(t, repo, doomed)
		r2 := mustCreateRun(t, repo, doomed)
		kept := mustCreateRun(t, repo, survivor)

		if err := repo.DeleteGraph(ctx, doomed.ID); err != nil {
			t.Fatalf("DeleteGraph failed: %v", err)
		}

		if _, err := repo.GetGraph(ctx, doomed.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected deleted graph lookup to fail, got %v", err)
		}
		for _, runID := range []string{r1.ID, r2.ID} {
			if _, err := repo.GetRun(ctx, runID); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("expected cascaded run %s to be gone, got %v", runID, err)
			}
		}
		if _, err := repo.GetRun(ctx, kept.ID); err != nil {
			t.Errorf("survivor's run must remain: %v", err)
		}
	})

	t.Run("DeleteGraphNotFound", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.DeleteGraph(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// sampleGraph is the prompt -> llm -> notebook chain used across the
// suite.
func sampleGraph(name, tenantID, workspaceID string) *graph.Graph {
	return &graph.Graph{
		Name:        name,
		TenantID:    tenantID,
		WorkspaceID: workspaceID,
		Nodes: []graph.Node{
			{ID: "prompt", Type: "prompt", Label: "Prompt", Props: map[string]any{"text": "Hello"}},
			{ID: "llm", Type: "llm", Label: "LLM", Props: map[string]any{"model": "m1"}},
			{ID: "notebook", Type: "notebook", Label: "Notebook", Props: map[string]any{}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: graph.Endpoint{Node: "prompt", Port: "text"}, Target: graph.Endpoint{Node: "llm", Port: "prompt"}},
			{ID: "e2", Source: graph.Endpoint{Node: "llm", Port: "response"}, Target: graph.Endpoint{Node: "notebook", Port: "parameters"}},
		},
	}
}

func mustCreateGraph(t *testing.T, repo store.Repository, name, tenantID, workspaceID string) *graph.Graph {
	t.Helper()
	g, err := repo.CreateGraph(context.Background(), sampleGraph(name, tenantID, workspaceID))
	if err != nil {
		t.Fatalf("CreateGraph failed: %v", err)
	}
	return g
}

func mustCreateRun(t *testing.T, repo store.Repository, g *graph.Graph) *graph.Run {
	t.Helper()
	run, err := repo.CreateRun(context.Background(), g)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func names(graphs []*graph.Graph) []string {
	out := make([]string, len(graphs))
	for i, g := range graphs {
		out[i] = g.Name
	}
	return out
}
