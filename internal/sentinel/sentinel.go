package sentinel

import "errors"

// Sentinel errors for facts reported by the storage layer. Stores return these, optionally
// wrapped, and the directory translates them into its own errors.
var (
	// ErrNotFound means that no row matched the key.
	ErrNotFound = errors.New("not found")
	// ErrConflict means that a unique constraint of the database rejected the write.
	ErrConflict = errors.New("conflict")
)
