package executor

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rmax-ai/elementd/pkg/graph"
)

func chainGraph() *graph.Graph {
	return &graph.Graph{
		ID:   "g1",
		Name: "chain",
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

func TestExecuteChain(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())

	result, err := exec.Execute(chainGraph(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != graph.RunSucceeded {
		t.Errorf("expected succeeded, got %s", result.Status)
	}
	if len(result.Trace) != 3 {
		t.Fatalf("expected 3 trace entries, got %d", len(result.Trace))
	}

	// Aggregate outputs are the last node's outputs, and the notebook
	// node reports the handoff to the external executor.
	if result.Outputs["status"] != "queued" {
		t.Errorf("expected outputs.status == queued, got %v", result.Outputs["status"])
	}

	llm := result.Trace[1]
	if llm.ID != "llm" {
		t.Fatalf("unexpected trace order: %v", traceIDs(result.Trace))
	}
	if llm.Inputs["prompt"] != "Hello" {
		t.Errorf("llm prompt input not resolved: %v", llm.Inputs)
	}
	if llm.Outputs["response"] != "[m1 | temp=0.2] Hello" {
		t.Errorf("unexpected llm response: %v", llm.Outputs["response"])
	}

	notebook := result.Trace[2]
	params, ok := notebook.Outputs["parameters"].(map[string]any)
	if !ok {
		t.Fatalf("notebook parameters missing: %v", notebook.Outputs)
	}
	inputs, ok := params["inputs"].(map[string]any)
	if !ok || inputs["parameters"] != "[m1 | temp=0.2] Hello" {
		t.Errorf("notebook did not receive the llm response: %v", params)
	}
}

func TestExecuteOverride(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())

	overrides := graph.Overrides{"prompt": {"text": "Elements"}}
	result, err := exec.Execute(chainGraph(), overrides)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	llm := result.Trace[1]
	if llm.Inputs["prompt"] != "Elements" {
		t.Errorf("override did not reach the llm input: %v", llm.Inputs)
	}
	if response, _ := llm.Outputs["response"].(string); !strings.Contains(response, "Elements") {
		t.Errorf("llm response does not embed the override: %q", response)
	}
}

func TestOverridePrecedence(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())

	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "prompt", Type: "prompt", Label: "Prompt", Props: map[string]any{"text": "Hello", "variant": "styled"}},
		},
	}
	result, err := exec.Execute(g, graph.Overrides{"prompt": {"text": "Patched"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	props := result.Trace[0].Props
	if props["text"] != "Patched" {
		t.Errorf("override key not applied: %v", props)
	}
	if props["variant"] != "styled" {
		t.Errorf("untouched key must survive the merge: %v", props)
	}
	// Stored props must not be mutated by the merge.
	if g.Nodes[0].Props["text"] != "Hello" {
		t.Errorf("stored props mutated: %v", g.Nodes[0].Props)
	}
}

func TestExecuteSingleNode(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())

	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "only", Type: "prompt", Label: "Only", Props: map[string]any{"text": "solo"}}},
	}
	result, err := exec.Execute(g, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(result.Trace) != 1 {
		t.Fatalf("expected 1 trace entry, got %d", len(result.Trace))
	}
	if !reflect.DeepEqual(result.Outputs, result.Trace[0].Outputs) {
		t.Errorf("outputs must equal the single node's outputs")
	}
	if result.Outputs["text"] != "solo" {
		t.Errorf("unexpected outputs: %v", result.Outputs)
	}
}

func TestExecuteEmptyGraph(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())
	_, err := exec.Execute(&graph.Graph{}, nil)
	assertValidationError(t, err, "at least one node")
}

func TestExecuteDanglingEdge(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())

	g := chainGraph()
	g.Edges = append(g.Edges, graph.Edge{
		ID:     "bad",
		Source: graph.Endpoint{Node: "llm", Port: "response"},
		Target: graph.Endpoint{Node: "ghost", Port: "in"},
	})
	_, err := exec.Execute(g, nil)
	assertValidationError(t, err, `"ghost"`)

	g = chainGraph()
	g.Edges[0].Source.Node = "phantom"
	_, err = exec.Execute(g, nil)
	assertValidationError(t, err, `"phantom"`)
}

func TestExecuteUnknownType(t *testing.T) {
	registry := NewRegistry()
	executed := false
	registry.Register("tracked", func(_ graph.Node, _, _ map[string]any) (map[string]any, error) {
		executed = true
		return map[string]any{}, nil
	})
	exec := NewExecutor(registry)

	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "a", Type: "tracked", Label: "A"},
			{ID: "b", Type: "mystery", Label: "B"},
		},
	}
	_, err := exec.Execute(g, nil)
	assertValidationError(t, err, `"mystery"`)
	if executed {
		t.Error("no handler may run when validation fails")
	}
}

func TestExecuteCycle(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())

	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "a", Type: "prompt", Label: "A"},
			{ID: "b", Type: "prompt", Label: "B"},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: graph.Endpoint{Node: "a", Port: "text"}, Target: graph.Endpoint{Node: "b", Port: "text"}},
			{ID: "e2", Source: graph.Endpoint{Node: "b", Port: "text"}, Target: graph.Endpoint{Node: "a", Port: "text"}},
		},
	}
	result, err := exec.Execute(g, nil)
	assertValidationError(t, err, "cycle")
	if result != nil {
		t.Errorf("cycle must produce no partial result, got %+v", result)
	}
}

func TestTopologicalOrderProperties(t *testing.T) {
	registry := NewRegistry()
	var order []string
	registry.Register("probe", func(node graph.Node, _, _ map[string]any) (map[string]any, error) {
		order = append(order, node.ID)
		return map[string]any{"out": node.ID}, nil
	})
	exec := NewExecutor(registry)

	// Diamond plus a detached node, declared deliberately out of order.
	nodes := []graph.Node{
		{ID: "sink", Type: "probe"},
		{ID: "right", Type: "probe"},
		{ID: "detached", Type: "probe"},
		{ID: "left", Type: "probe"},
		{ID: "source", Type: "probe"},
	}
	edges := []graph.Edge{
		{ID: "e1", Source: graph.Endpoint{Node: "source", Port: "out"}, Target: graph.Endpoint{Node: "left", Port: "in"}},
		{ID: "e2", Source: graph.Endpoint{Node: "source", Port: "out"}, Target: graph.Endpoint{Node: "right", Port: "in"}},
		{ID: "e3", Source: graph.Endpoint{Node: "left", Port: "out"}, Target: graph.Endpoint{Node: "sink", Port: "l"}},
		{ID: "e4", Source: graph.Endpoint{Node: "right", Port: "out"}, Target: graph.Endpoint{Node: "sink", Port: "r"}},
	}
	g := &graph.Graph{Nodes: nodes, Edges: edges}

	if _, err := exec.Execute(g, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(order) != len(nodes) {
		t.Fatalf("expected every node exactly once, got %v", order)
	}
	position := map[string]int{}
	for i, id := range order {
		if _, dup := position[id]; dup {
			t.Fatalf("node %s executed twice: %v", id, order)
		}
		position[id] = i
	}
	for _, edge := range edges {
		if position[edge.Source.Node] >= position[edge.Target.Node] {
			t.Errorf("%s must precede %s: %v", edge.Source.Node, edge.Target.Node, order)
		}
	}

	// Reversing declaration order must not change the computed order.
	firstOrder := append([]string(nil), order...)
	order = nil
	reversed := &graph.Graph{Nodes: reverseNodes(nodes), Edges: edges}
	if _, err := exec.Execute(reversed, nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(firstOrder, order) {
		t.Errorf("order depends on declaration order: %v vs %v", firstOrder, order)
	}

	// Zero-indegree ties resolve in sorted id order.
	if position["detached"] >= position["source"] {
		t.Errorf("sorted tie-break violated: %v", firstOrder)
	}
}

func TestExecuteDeterminism(t *testing.T) {
	exec := NewExecutor(DefaultRegistry())
	overrides := graph.Overrides{"prompt": {"text": "same"}}

	first, err := exec.Execute(chainGraph(), overrides)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	second, err := exec.Execute(chainGraph(), overrides)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs must yield identical results")
	}
}

// TestDuplicateTargetPortLastWins pins the documented behavior for two
// edges feeding one input port: the edge later in declaration order
// wins, rather than the pair being rejected.
func TestDuplicateTargetPortLastWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register("const", func(node graph.Node, props, _ map[string]any) (map[string]any, error) {
		return map[string]any{"value": props["value"]}, nil
	})
	var seen any
	registry.Register("capture", func(_ graph.Node, _, inputs map[string]any) (map[string]any, error) {
		seen = inputs["in"]
		return map[string]any{}, nil
	})
	exec := NewExecutor(registry)

	build := func(flip bool) *graph.Graph {
		edges := []graph.Edge{
			{ID: "ea", Source: graph.Endpoint{Node: "a", Port: "value"}, Target: graph.Endpoint{Node: "c", Port: "in"}},
			{ID: "eb", Source: graph.Endpoint{Node: "b", Port: "value"}, Target: graph.Endpoint{Node: "c", Port: "in"}},
		}
		if flip {
			edges[0], edges[1] = edges[1], edges[0]
		}
		return &graph.Graph{
			Nodes: []graph.Node{
				{ID: "a", Type: "const", Props: map[string]any{"value": "from-a"}},
				{ID: "b", Type: "const", Props: map[string]any{"value": "from-b"}},
				{ID: "c", Type: "capture"},
			},
			Edges: edges,
		}
	}

	if _, err := exec.Execute(build(false), nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if seen != "from-b" {
		t.Errorf("later edge must win, got %v", seen)
	}

	if _, err := exec.Execute(build(true), nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if seen != "from-a" {
		t.Errorf("edge declaration order must decide the winner, got %v", seen)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	registry := NewRegistry()
	registry.Register("boom", func(_ graph.Node, _, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("kaboom")
	})
	exec := NewExecutor(registry)

	g := &graph.Graph{Nodes: []graph.Node{{ID: "n", Type: "boom"}}}
	_, err := exec.Execute(g, nil)
	if err == nil {
		t.Fatal("expected handler error")
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Errorf("handler failure must not be a validation error: %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("cause must be preserved: %v", err)
	}
}

func assertValidationError(t *testing.T, err error, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if !strings.Contains(verr.Reason, fragment) {
		t.Errorf("expected %q in %q", fragment, verr.Reason)
	}
}

func traceIDs(trace []graph.TraceEntry) []string {
	ids := make([]string, len(trace))
	for i, entry := range trace {
		ids[i] = entry.ID
	}
	return ids
}

func reverseNodes(nodes []graph.Node) []graph.Node {
	out := make([]graph.Node, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}
