package testutil

import (
	"testing"

	"github.com/nhle/mailsync/internal/store"
)

// NewTestStore opens a throwaway in-memory message store with the
// schema fully migrated. The store closes itself when the test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing in-memory store: %v", err)
		}
	})

	return s
}
