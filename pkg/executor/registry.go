package executor

import (
	"sort"
	"sync"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// Handler executes a single node. It receives the node, its effective
// (override-merged) props and the inputs resolved from upstream
// outputs, and returns the node's output port map. Handlers must be
// pure functions of their arguments; they see nothing of the registry
// or the executor.
type Handler func(node graph.Node, props map[string]any, inputs map[string]any) (map[string]any, error)

// Registry maps node type identifiers to handlers. The handler set is
// open but fixed at composition time; dispatching an unregistered type
// is a validation failure, not a crash.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// DefaultRegistry returns a registry with the built-in node handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("prompt", handlePrompt)
	r.Register("llm", handleLLM)
	r.Register("notebook", handleNotebook)
	return r
}

// Register adds or replaces the handler for a node type.
func (r *Registry) Register(nodeType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[nodeType] = h
}

// Get returns the handler for a node type, if registered.
func (r *Registry) Get(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
