package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mohamaddakhiliuad/tenantorders/internal/storage/sqlite"
)

// NewSQLiteStore opens a fresh migrated SQLite store in a temp dir.
func NewSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
