package store_test

import (
	"path/filepath"
	"testing"

	"github.com/rmax-ai/elementd/pkg/store"
	"github.com/rmax-ai/elementd/pkg/store/storetest"
)

func newSQLiteRepo(t *testing.T) store.Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "elementd.db")
	s, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return s
}

func TestSQLiteRepository(t *testing.T) {
	storetest.RunRepositoryTests(t, newSQLiteRepo)
}
