// Package delivery selects how submitted points reach a sink.
//
// Four modes map to four paths:
//
//	direct      store.WriteDirect, synchronous
//	async       store.AsyncInserter, one point at a time in the background
//	batch       store.BulkInserter, flushed by size or delay
//	connection  writer.Writer over the configured transport
//
// The connection mode falls back to a direct store write once the writer
// reports writer.ErrBindRejected or writer.ErrClosed.
package delivery
