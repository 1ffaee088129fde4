package writer

import "errors"

// Domain-specific errors for the connection writer.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransportFailure is returned when the one-way send call itself fails.
	// The point is not re-queued; the caller decides whether to resubmit.
	ErrTransportFailure = errors.New("writer: transport failure")

	// ErrBindRejected is returned when the platform refuses the bind request.
	// All buffered points are discarded when this happens.
	ErrBindRejected = errors.New("writer: bind rejected")

	// ErrClosed is returned by operations on a writer that has fully closed.
	ErrClosed = errors.New("writer: closed")

	// ErrBufferFull is returned when the pending buffer is at capacity and the
	// overflow policy rejects new points.
	ErrBufferFull = errors.New("writer: pending buffer full")

	// ErrNilBinder is returned by New when no binder is supplied.
	ErrNilBinder = errors.New("writer: binder is required")
)
