// Package redis is the Redis Streams transport for the stream writer.
//
// Points are appended to one stream key with XADD. Entry fields are
// stream_id, stream_version, stream_data and, when present, stream_metadata.
//
// A failed append is returned to the writer and also reported as a lost
// connection, so the writer buffers again while the binder pings until the
// server answers.
package redis
