package store

import "errors"

// Domain-specific errors for local store delivery.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrStoreUnavailable is returned when the local store is missing or
	// its schema has not been applied.
	ErrStoreUnavailable = errors.New("store: local stream store unavailable")

	// ErrInsertFailed is returned when the store rejects an insert.
	ErrInsertFailed = errors.New("store: insert failed")

	// ErrInserterClosed is returned by inserters after Close.
	ErrInserterClosed = errors.New("store: inserter closed")
)
