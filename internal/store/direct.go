package store

import (
	"context"

	"github.com/ohmage/streamwriter/internal/stream"
)

// WriteDirect validates p, checks that the store exists, and inserts it
// synchronously.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - s: Target store (may be nil)
//   - p: Point to write
//
// Returns:
//   - error: a stream validation error, ErrStoreUnavailable when the store
//     is missing, or ErrInsertFailed
func WriteDirect(ctx context.Context, s *Store, p stream.Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !s.Exists(ctx) {
		return ErrStoreUnavailable
	}
	return s.Insert(ctx, p)
}
