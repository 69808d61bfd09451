package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rmax-ai/elementd/pkg/graph"
	"github.com/rmax-ai/elementd/pkg/store"
)

const (
	// DefaultMaxActiveRuns is the default per-workspace admission ceiling.
	DefaultMaxActiveRuns = 3
	// MinMaxActiveRuns and MaxMaxActiveRuns bound the configurable range.
	MinMaxActiveRuns = 1
	MaxMaxActiveRuns = 20
)

// CapacityError reports that a workspace is at its admission ceiling.
// No run record exists when it is returned.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("too many runs are currently active for this workspace (limit %d)", e.Limit)
}

// ClampMaxActiveRuns forces a configured ceiling into the supported
// range, substituting the default for non-positive values.
func ClampMaxActiveRuns(limit int) int {
	if limit <= 0 {
		return DefaultMaxActiveRuns
	}
	if limit < MinMaxActiveRuns {
		return MinMaxActiveRuns
	}
	if limit > MaxMaxActiveRuns {
		return MaxMaxActiveRuns
	}
	return limit
}

// AdmissionController gates run creation on the workspace's active-run
// count. The count-then-create sequence is serialized by a process
// mutex: the document backend has no cross-document transaction, so in
// a single-process deployment this closes the check/create race.
type AdmissionController struct {
	repo  store.Repository
	limit int
	mu    sync.Mutex
}

// NewAdmissionController creates a controller with the given ceiling,
// clamped into the supported range.
func NewAdmissionController(repo store.Repository, limit int) *AdmissionController {
	return &AdmissionController{repo: repo, limit: ClampMaxActiveRuns(limit)}
}

// Limit returns the effective ceiling.
func (a *AdmissionController) Limit() int {
	return a.limit
}

// AdmitAndCreate creates a queued run for the graph unless its
// tenant/workspace already has limit runs in queued or running state.
// On rejection no run record is created.
func (a *AdmissionController) AdmitAndCreate(ctx context.Context, g *graph.Graph) (*graph.Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	active, err := a.repo.CountActiveRuns(ctx, g.TenantID, g.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active runs: %w", err)
	}
	if active >= a.limit {
		ElementdAdmissionRejectsTotal.WithLabelValues(g.TenantID, g.WorkspaceID).Inc()
		return nil, &CapacityError{Limit: a.limit}
	}

	return a.repo.CreateRun(ctx, g)
}
