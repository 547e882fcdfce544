package store

import "testing"

// OpenMemory opens an in-memory database for tests. Open already pins
// the pool to one connection, which is required for ":memory:" (each
// connection would otherwise see its own empty database). Closing is
// registered as a cleanup.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
