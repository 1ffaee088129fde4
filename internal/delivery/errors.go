package delivery

import "errors"

// Sentinel errors for submitter selection and delivery.
var (
	// ErrUnknownMode is returned by New for a mode it does not recognise.
	ErrUnknownMode = errors.New("delivery: unknown mode")

	// ErrMissingDependency is returned by New when the mode's component is nil.
	ErrMissingDependency = errors.New("delivery: missing dependency")

	// ErrFallbackFailed is returned when the writer could not deliver and the
	// direct store write also failed.
	ErrFallbackFailed = errors.New("delivery: fallback write failed")
)
