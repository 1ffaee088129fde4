package redis

import "errors"

// Sentinel errors for the Redis transport.
var (
	// ErrNotConnected indicates no session is bound.
	ErrNotConnected = errors.New("redis: not connected")

	// ErrConnectionFailed indicates a ping failed.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrNoStream indicates the config names no stream key.
	ErrNoStream = errors.New("redis: stream key is required")

	// ErrAddFailed indicates XADD returned an error.
	ErrAddFailed = errors.New("redis: stream add failed")
)
