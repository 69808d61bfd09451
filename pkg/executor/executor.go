package executor

import (
	"fmt"
	"sort"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// Executor performs deterministic, single-pass execution of a graph:
// validate, order topologically, resolve each node's inputs from
// upstream outputs, dispatch to the registered handler and accumulate
// a trace. It is a pure computation; persistence and error isolation
// belong to the dispatcher.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor backed by the given handler registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Validate checks that the graph is executable: non-empty, every edge
// endpoint resolves to a node, every node type has a handler and the
// graph is acyclic. Returns a *ValidationError describing the first
// problem found.
func (e *Executor) Validate(g *graph.Graph) error {
	_, _, err := e.plan(g)
	return err
}

// Execute runs the graph with the given per-node prop overrides.
// Validation failures are returned before any handler runs; a handler
// error aborts the run and is returned to the caller, which owns the
// failure bookkeeping. The result's Outputs is the output map of the
// last node in topological order.
func (e *Executor) Execute(g *graph.Graph, overrides graph.Overrides) (*graph.Result, error) {
	nodes, order, err := e.plan(g)
	if err != nil {
		return nil, err
	}

	incoming := make(map[string][]graph.Edge)
	for _, edge := range g.Edges {
		incoming[edge.Target.Node] = append(incoming[edge.Target.Node], edge)
	}

	// Outputs of already-executed nodes, keyed by node id.
	context := make(map[string]map[string]any, len(order))
	trace := make([]graph.TraceEntry, 0, len(order))

	for _, nodeID := range order {
		node := nodes[nodeID]
		handler, ok := e.registry.Get(node.Type)
		if !ok {
			// Unreachable after plan(), kept as a guard for
			// registries mutated mid-flight.
			return nil, validationErrorf("no executor available for node type %q", node.Type)
		}

		props := graph.MergeProps(node.Props, overrides[nodeID])
		inputs := gatherInputs(nodeID, incoming, context)

		outputs, err := handler(node, props, inputs)
		if err != nil {
			return nil, fmt.Errorf("node %q (%s): %w", nodeID, node.Type, err)
		}
		if outputs == nil {
			outputs = map[string]any{}
		}

		context[nodeID] = outputs
		trace = append(trace, graph.TraceEntry{
			ID:      node.ID,
			Type:    node.Type,
			Inputs:  inputs,
			Outputs: outputs,
			Props:   props,
		})
	}

	return &graph.Result{
		Status:  graph.RunSucceeded,
		Outputs: context[order[len(order)-1]],
		Trace:   trace,
	}, nil
}

// plan validates the graph and computes its execution order.
func (e *Executor) plan(g *graph.Graph) (map[string]graph.Node, []string, error) {
	if len(g.Nodes) == 0 {
		return nil, nil, validationErrorf("graph must contain at least one node")
	}

	nodes := make(map[string]graph.Node, len(g.Nodes))
	for _, node := range g.Nodes {
		nodes[node.ID] = node
	}

	for _, edge := range g.Edges {
		if _, ok := nodes[edge.Source.Node]; !ok {
			return nil, nil, validationErrorf("edge %q references unknown source node %q", edge.ID, edge.Source.Node)
		}
		if _, ok := nodes[edge.Target.Node]; !ok {
			return nil, nil, validationErrorf("edge %q references unknown target node %q", edge.ID, edge.Target.Node)
		}
	}

	for _, node := range g.Nodes {
		if _, ok := e.registry.Get(node.Type); !ok {
			return nil, nil, validationErrorf("no executor available for node type %q", node.Type)
		}
	}

	order, err := topologicalOrder(nodes, g.Edges)
	if err != nil {
		return nil, nil, err
	}
	return nodes, order, nil
}

// topologicalOrder orders nodes by repeated removal of zero-indegree
// candidates, breaking ties by sorted node id so the order is
// deterministic regardless of declaration order. Returns a validation
// error when a cycle prevents ordering every node.
func topologicalOrder(nodes map[string]graph.Node, edges []graph.Edge) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))
	for id := range nodes {
		indegree[id] = 0
	}
	for _, edge := range edges {
		adjacency[edge.Source.Node] = append(adjacency[edge.Source.Node], edge.Target.Node)
		indegree[edge.Target.Node]++
	}

	ready := make([]string, 0, len(nodes))
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		released := false
		for _, neighbor := range adjacency[current] {
			indegree[neighbor]--
			if indegree[neighbor] == 0 {
				ready = append(ready, neighbor)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(nodes) {
		return nil, validationErrorf("graph contains a cycle; execution aborted")
	}
	return order, nil
}

// gatherInputs resolves a node's input ports by scanning its incoming
// edges and reading the already-computed output map of each source
// node. When two edges target the same input port, the later edge in
// declaration order overwrites the earlier value.
func gatherInputs(nodeID string, incoming map[string][]graph.Edge, context map[string]map[string]any) map[string]any {
	ports := map[string]any{}
	for _, edge := range incoming[nodeID] {
		ports[edge.Target.Port] = context[edge.Source.Node][edge.Source.Port]
	}
	return ports
}
