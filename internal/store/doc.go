// Package store implements the local delivery paths for stream points.
//
// Points can reach the SQLite stream store three ways, each independent of
// the connection writer:
//
//   - WriteDirect: validate, check the store, insert synchronously
//   - AsyncInserter: queue one insert and report completion with a token
//   - BulkInserter: accumulate points and insert them in one transaction
//     when the batch fills or the flush delay elapses
//
// Every path validates a point before it is written, exactly as the writer
// does before transmission.
//
// Usage:
//
//	st := store.New(db, store.WithUsername(cfg.Client.Username))
//	if err := store.WriteDirect(ctx, st, p); err != nil {
//	    return err
//	}
package store
