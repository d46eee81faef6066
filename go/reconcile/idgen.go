package reconcile

import "github.com/google/uuid"

// NewGUID generates a fresh opaque sync identifier for a local row that has
// never been uploaded before: uuid.New gives 122 bits of randomness, well
// over the ≥96-bit floor this identifier service needs, and no
// coordination with the server is required to avoid a collision.
//
// It's a package variable rather than a bare function call so tests can
// substitute a deterministic generator without having to thread one through
// every call site.
var NewGUID = func() string {
	return uuid.New().String()
}
