package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// CreateRun records a new run for the graph in status queued. The
// owning tenant/workspace is denormalized onto the run row so the
// admission counter is a single indexed query.
func (s *Store) CreateRun(ctx context.Context, g *graph.Graph) (*graph.Run, error) {
	result, err := marshalResult(nil, nil)
	if err != nil {
		return nil, err
	}

	run := &graph.Run{
		ID:          uuid.NewString(),
		GraphID:     g.ID,
		TenantID:    g.TenantID,
		WorkspaceID: g.WorkspaceID,
		Status:      graph.RunQueued,
		Outputs:     map[string]any{},
		Trace:       []graph.TraceEntry{},
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, graph_id, tenant_id, workspace_id, status, result, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, NULL)
	`, run.ID, run.GraphID, run.TenantID, run.WorkspaceID, run.Status, result, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// UpdateRun moves the run to the given status and stores the result or
// error. completed_at is set once the status is terminal.
func (s *Store) UpdateRun(ctx context.Context, runID string, status graph.RunStatus, result *graph.Result, errMsg string) (*graph.Run, error) {
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	current.Status = status
	if result != nil {
		current.Outputs = result.Outputs
		current.Trace = result.Trace
		current.Error = result.Error
	}
	if errMsg != "" {
		current.Error = errMsg
	}

	var completedAt sql.NullTime
	if status.IsTerminal() {
		now := time.Now().UTC()
		current.CompletedAt = &now
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	resultJSON, err := marshalResult(current.Outputs, current.Trace)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE run_id = ?
	`, current.Status, resultJSON, nullString(current.Error), completedAt, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return current, nil
}

// GetRun returns the run or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*graph.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, graph_id, tenant_id, workspace_id, status, result, error, created_at, completed_at
		FROM runs WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit runs for the graph, newest first.
func (s *Store) ListRuns(ctx context.Context, graphID string, limit int) ([]*graph.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, graph_id, tenant_id, workspace_id, status, result, error, created_at, completed_at
		FROM runs WHERE graph_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, graphID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*graph.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountActiveRuns counts queued+running runs for a tenant/workspace
// across all of its graphs.
func (s *Store) CountActiveRuns(ctx context.Context, tenantID, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runs
		WHERE tenant_id = ? AND workspace_id = ? AND status IN (?, ?)
	`, tenantID, workspaceID, graph.RunQueued, graph.RunRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active runs: %w", err)
	}
	return count, nil
}

func scanRun(row rowScanner) (*graph.Run, error) {
	var run graph.Run
	var result []byte
	var errMsg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.GraphID, &run.TenantID, &run.WorkspaceID, &run.Status, &result, &errMsg, &run.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run row: %w", err)
	}
	if err := unmarshalResult(result, &run); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
