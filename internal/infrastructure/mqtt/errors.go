package mqtt

import "errors"

// Domain-specific errors for the MQTT transport.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing without a live session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when a publish is refused or times out.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrPayloadTooLarge is returned for envelopes over maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
