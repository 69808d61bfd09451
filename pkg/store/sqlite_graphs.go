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

// ListGraphs returns graphs matching the filter, most recently updated first.
func (s *Store) ListGraphs(ctx context.Context, filter GraphFilter) ([]*graph.Graph, error) {
	query := `
		SELECT graph_id, name, tenant_id, workspace_id, definition, created_at, updated_at
		FROM graphs WHERE 1=1`
	args := []any{}
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.WorkspaceID != "" {
		query += " AND workspace_id = ?"
		args = append(args, filter.WorkspaceID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}
	defer rows.Close()

	var graphs []*graph.Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, rows.Err()
}

// CreateGraph persists a new graph and returns the stored form.
func (s *Store) CreateGraph(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	definition, err := marshalDefinition(g)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *g
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graphs (graph_id, name, tenant_id, workspace_id, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.Name, stored.TenantID, stored.WorkspaceID, definition, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert graph: %w", err)
	}

	return &stored, nil
}

// GetGraph returns the graph or ErrNotFound.
func (s *Store) GetGraph(ctx context.Context, graphID string) (*graph.Graph, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT graph_id, name, tenant_id, workspace_id, definition, created_at, updated_at
		FROM graphs WHERE graph_id = ?
	`, graphID)

	g, err := scanGraph(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// UpdateGraph fully replaces the graph definition and bumps updated_at.
func (s *Store) UpdateGraph(ctx context.Context, graphID string, g *graph.Graph) (*graph.Graph, error) {
	definition, err := marshalDefinition(g)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE graphs
		SET name = ?, tenant_id = ?, workspace_id = ?, definition = ?, updated_at = ?
		WHERE graph_id = ?
	`, g.Name, g.TenantID, g.WorkspaceID, definition, now, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to update graph: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return s.GetGraph(ctx, graphID)
}

// DeleteGraph deletes the graph's runs, then the graph itself. The
// cascade is an explicit prior statement rather than an FK cascade so
// the two backends behave identically.
func (s *Store) DeleteGraph(ctx context.Context, graphID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE graph_id = ?`, graphID); err != nil {
		return fmt.Errorf("failed to delete runs for graph: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM graphs WHERE graph_id = ?`, graphID)
	if err != nil {
		return fmt.Errorf("failed to delete graph: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGraph(row rowScanner) (*graph.Graph, error) {
	var g graph.Graph
	var definition []byte
	if err := row.Scan(&g.ID, &g.Name, &g.TenantID, &g.WorkspaceID, &definition, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan graph row: %w", err)
	}
	if err := unmarshalDefinition(definition, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
