package store

import "context"

// OpenMemory opens a fresh in-memory Store, for use by tests in this
// module and in go/reconcile. Each call gets its own private database:
// SQLite's ":memory:" is scoped to the connection that opened it, and
// Store pins exactly one connection for its lifetime.
func OpenMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, ":memory:")
}
