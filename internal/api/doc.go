// Package api implements the HTTP and WebSocket ingest surface for the
// stream writer.
//
// This package provides:
//   - POST /api/v1/points for point envelopes (single or array)
//   - POST /api/v1/streams/{id}/{version} for bare data with generated metadata
//   - Stream counts and recent points from the local store
//   - Writer and runtime statistics, plus Prometheus counters
//   - A WebSocket socket that accepts points and pushes writer state events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// Every submission goes through a delivery.Submitter, so the HTTP layer
// does not know whether a point is stored directly, batched, or written
// through the connection writer.
package api
