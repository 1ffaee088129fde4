package stream

import "errors"

// Domain-specific errors for stream points.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedPayload is returned when the data is missing or not JSON,
	// or when metadata is present but not JSON. It is never retriable.
	ErrMalformedPayload = errors.New("stream: malformed payload")

	// ErrInvalidStream is returned when the stream id is empty or the
	// version is below 1.
	ErrInvalidStream = errors.New("stream: invalid stream identity")
)
