package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rmax-ai/elementd/pkg/graph"
)

// Store is the SQLite-backed repository. It is the single-writer
// embedded backend used for local deployments and CI; blocking file
// I/O is acceptable here since the database is process-local.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// Enable WAL mode (Write-Ahead Logging)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// Ownership and status live in columns for querying; the node/edge
	// definition and the run result are JSON blobs. Run deletion on
	// graph delete is an explicit prior statement, not an FK cascade.
	query := `
	CREATE TABLE IF NOT EXISTS graphs (
		graph_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		definition JSON NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_graphs_scope ON graphs(tenant_id, workspace_id);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		graph_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		status TEXT NOT NULL,
		result JSON NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_graph ON runs(graph_id);
	CREATE INDEX IF NOT EXISTS idx_runs_scope_status ON runs(tenant_id, workspace_id, status);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// graphDefinition is the JSON blob stored in the graphs.definition
// column, and the shape shared with the document backend.
type graphDefinition struct {
	Nodes    []graph.Node    `json:"nodes"`
	Edges    []graph.Edge    `json:"edges"`
	Metadata *graph.Metadata `json:"metadata,omitempty"`
}

// runResult is the JSON blob stored in the runs.result column.
type runResult struct {
	Outputs map[string]any     `json:"outputs"`
	Trace   []graph.TraceEntry `json:"trace"`
}

func marshalDefinition(g *graph.Graph) ([]byte, error) {
	def := graphDefinition{Nodes: g.Nodes, Edges: g.Edges, Metadata: g.Metadata}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph definition: %w", err)
	}
	return data, nil
}

func unmarshalDefinition(data []byte, g *graph.Graph) error {
	var def graphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("failed to unmarshal graph definition: %w", err)
	}
	g.Nodes = def.Nodes
	g.Edges = def.Edges
	g.Metadata = def.Metadata
	return nil
}

func marshalResult(outputs map[string]any, trace []graph.TraceEntry) ([]byte, error) {
	if outputs == nil {
		outputs = map[string]any{}
	}
	if trace == nil {
		trace = []graph.TraceEntry{}
	}
	data, err := json.Marshal(runResult{Outputs: outputs, Trace: trace})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run result: %w", err)
	}
	return data, nil
}

func unmarshalResult(data []byte, r *graph.Run) error {
	var res runResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("failed to unmarshal run result: %w", err)
	}
	r.Outputs = res.Outputs
	r.Trace = res.Trace
	return nil
}
