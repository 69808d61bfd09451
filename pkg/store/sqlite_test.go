package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "elementd.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}

	// Verify table existence via sqlite_master
	for _, table := range []string{"graphs", "runs"} {
		var name string
		err = store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("failed to query sqlite_master for %s table: %v", table, err)
		}
		if name != table {
			t.Errorf("expected table %q to exist", table)
		}
	}

	// Verify indices
	rows, err := store.db.Query("SELECT name FROM sqlite_master WHERE type='index'")
	if err != nil {
		t.Fatalf("failed to query indices: %v", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		found[name] = true
	}
	for _, idx := range []string{"idx_graphs_scope", "idx_runs_graph", "idx_runs_scope_status"} {
		if !found[idx] {
			t.Errorf("%s not found", idx)
		}
	}

	// Reopening against the same file must not fail migration.
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	reopened.Close()
}
