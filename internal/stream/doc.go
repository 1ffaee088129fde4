// Package stream defines stream points and the builder used to assemble them.
//
// A stream point is one timestamped, optionally geotagged measurement submitted
// for a named, versioned stream. It carries four fields on the wire:
//
//   - stream_id: the target stream
//   - stream_version: the stream's schema version (>= 1)
//   - stream_metadata: optional JSON (id, timestamp, location)
//   - stream_data: required JSON payload
//
// # Validation
//
// Points are validated lazily, at the moment they are handed to a delivery
// path, not when they are built. Invalid JSON in either payload field yields
// an error wrapping ErrMalformedPayload.
//
// # Usage
//
//	point := stream.NewBuilder("eb5e35ee-6a4d-40ff-b503-e1f5b72e5a1d", 1).
//	    WithNewID().
//	    Now().
//	    SetData(`{"steps":12}`).
//	    Build()
//
//	if err := point.Validate(); err != nil {
//	    return err
//	}
package stream
