package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Point is a finalised stream point ready to be handed to a delivery path.
//
// Point is a value type; copies are independent. Metadata is optional and an
// empty string means absent.
type Point struct {
	StreamID      string
	StreamVersion int
	Metadata      string
	Data          string
}

// Validate checks that the point may be transmitted.
//
// It is called by every delivery path immediately before the point leaves
// the process (or enters a buffer that will later transmit it). Data and
// metadata must both be JSON objects.
//
// Returns:
//   - error: wrapping ErrInvalidStream or ErrMalformedPayload, nil if valid
func (p Point) Validate() error {
	if p.StreamID == "" {
		return fmt.Errorf("%w: stream id is required", ErrInvalidStream)
	}
	if p.StreamVersion < 1 {
		return fmt.Errorf("%w: stream version %d must be at least 1", ErrInvalidStream, p.StreamVersion)
	}
	if p.Data == "" {
		return fmt.Errorf("%w: must specify data", ErrMalformedPayload)
	}
	if !isObject(p.Data) {
		return fmt.Errorf("%w: data is not a json object", ErrMalformedPayload)
	}
	if p.Metadata != "" && !isObject(p.Metadata) {
		return fmt.Errorf("%w: metadata is not a json object", ErrMalformedPayload)
	}
	return nil
}

// isObject reports whether s is valid JSON with an object at the top level.
func isObject(s string) bool {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	return strings.HasPrefix(trimmed, "{") && json.Valid([]byte(s))
}

// HasMetadata reports whether the point carries metadata.
func (p Point) HasMetadata() bool {
	return p.Metadata != ""
}

// Values returns the point keyed by column name.
// Metadata is nil when absent so stores write NULL rather than "".
func (p Point) Values() map[string]any {
	var metadata any
	if p.HasMetadata() {
		metadata = p.Metadata
	}
	return map[string]any{
		ColumnStreamID:       p.StreamID,
		ColumnStreamVersion:  p.StreamVersion,
		ColumnStreamMetadata: metadata,
		ColumnStreamData:     p.Data,
	}
}

// envelope is the wire form of a point for message-oriented sinks.
// Payload fields are embedded as raw JSON, not as quoted strings.
type envelope struct {
	StreamID      string          `json:"stream_id"`
	StreamVersion int             `json:"stream_version"`
	Metadata      json.RawMessage `json:"stream_metadata,omitempty"`
	Data          json.RawMessage `json:"stream_data"`
}

// Encode returns the JSON envelope for the point.
//
// The point must already be valid; Encode does not re-validate beyond what
// encoding/json requires for raw messages.
func (p Point) Encode() ([]byte, error) {
	env := envelope{
		StreamID:      p.StreamID,
		StreamVersion: p.StreamVersion,
		Data:          json.RawMessage(p.Data),
	}
	if p.HasMetadata() {
		env.Metadata = json.RawMessage(p.Metadata)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return data, nil
}

// Decode parses a JSON envelope produced by Encode (or by an external
// submitter using the same column names) and validates the result.
func Decode(raw []byte) (Point, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Point{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	p := Point{
		StreamID:      env.StreamID,
		StreamVersion: env.StreamVersion,
		Data:          string(env.Data),
	}
	if len(env.Metadata) > 0 && string(env.Metadata) != "null" {
		p.Metadata = string(env.Metadata)
	}

	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}
