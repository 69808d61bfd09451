package executor

import "fmt"

// ValidationError reports a graph that cannot be executed: empty node
// set, an edge referencing a missing node, an unsupported node type or
// a cycle. It is always raised before any handler runs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
