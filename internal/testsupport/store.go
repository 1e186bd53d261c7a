package testsupport

import (
	"path/filepath"
	"testing"

	"bidskit/internal/ledger"
)

// MustOpenLedger opens a ledger in a temp directory and registers cleanup.
func MustOpenLedger(t testing.TB) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
