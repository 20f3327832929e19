// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/nhle/scanrelay/internal/store"
)

// NewTestJournal creates an in-memory journal with all migrations applied.
// It automatically closes the journal when the test completes.
func NewTestJournal(t *testing.T) *store.Journal {
	t.Helper()

	j, err := store.OpenJournal(":memory:")
	if err != nil {
		t.Fatalf("creating test journal: %v", err)
	}

	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Errorf("closing test journal: %v", err)
		}
	})

	return j
}
