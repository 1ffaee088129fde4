package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the ISO-8601 date-time layout used for point timestamps:
// millisecond precision with the zone offset preserved ("Z" for UTC).
//
// Example: 2013-11-12T15:50:02.123-05:00
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Location is where a point was recorded.
type Location struct {
	// Time is the fix time in milliseconds since the Unix epoch (UTC).
	Time int64 `json:"time"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Accuracy is the fix accuracy in metres.
	Accuracy float32 `json:"accuracy"`
}

// generatedMetadata is the metadata object assembled from builder fields.
type generatedMetadata struct {
	ID        string    `json:"id,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// Builder assembles stream points.
//
// A Builder is reusable: call Build after each change to obtain an
// independent Point. Builders are not safe for concurrent use.
type Builder struct {
	streamID      string
	streamVersion int
	data          string
	metadata      string

	id        string
	timestamp string
	location  *Location
}

// NewBuilder creates a builder for the given stream.
func NewBuilder(streamID string, streamVersion int) *Builder {
	return &Builder{
		streamID:      streamID,
		streamVersion: streamVersion,
	}
}

// SetStream sets the stream id and version the point applies to.
func (b *Builder) SetStream(streamID string, streamVersion int) *Builder {
	b.streamID = streamID
	b.streamVersion = streamVersion
	return b
}

// SetData sets the point data. It must be JSON by the time the point is written.
func (b *Builder) SetData(data string) *Builder {
	b.data = data
	return b
}

// SetMetadata sets explicit metadata JSON for the point.
//
// It clears any generated metadata (id, timestamp, location). Explicit
// metadata is ignored if generated metadata is added afterwards.
func (b *Builder) SetMetadata(metadata string) *Builder {
	b.ClearMetadata()
	b.metadata = metadata
	return b
}

// WithID sets the point id.
func (b *Builder) WithID(id string) *Builder {
	b.id = id
	return b
}

// WithNewID generates a random UUID for the point.
func (b *Builder) WithNewID() *Builder {
	b.id = uuid.NewString()
	return b
}

// ID returns the current point id (empty if unset).
func (b *Builder) ID() string {
	return b.id
}

// WithTimestamp sets a preformatted ISO-8601 timestamp.
//
// Prefer WithTime; a badly formatted string here produces a point the host
// may reject.
func (b *Builder) WithTimestamp(timestamp string) *Builder {
	b.timestamp = timestamp
	return b
}

// WithTime sets the timestamp from t, keeping t's zone offset.
// The zone matters for correct visualisation of the point.
func (b *Builder) WithTime(t time.Time) *Builder {
	b.timestamp = t.Format(TimestampLayout)
	return b
}

// Now sets the timestamp to the current local time.
func (b *Builder) Now() *Builder {
	return b.WithTime(time.Now())
}

// WithLocation sets where the point was recorded.
func (b *Builder) WithLocation(loc Location) *Builder {
	b.location = &loc
	return b
}

// ClearMetadata clears all metadata. Stream identity and data remain.
func (b *Builder) ClearMetadata() *Builder {
	b.id = ""
	b.timestamp = ""
	b.location = nil
	b.metadata = ""
	return b
}

// Clear resets everything associated with the point.
func (b *Builder) Clear() *Builder {
	b.ClearMetadata()
	b.streamID = ""
	b.streamVersion = 0
	b.data = ""
	return b
}

// Metadata returns the metadata JSON the point will carry.
//
// Generated metadata takes precedence; explicit metadata set with
// SetMetadata is returned only when nothing was generated.
func (b *Builder) Metadata() string {
	if generated := b.generatedMetadata(); generated != "" {
		return generated
	}
	return b.metadata
}

// generatedMetadata builds the metadata object from id, timestamp and
// location. Returns "" when none of them are set.
func (b *Builder) generatedMetadata() string {
	if b.id == "" && b.timestamp == "" && b.location == nil {
		return ""
	}

	raw, err := json.Marshal(generatedMetadata{
		ID:        b.id,
		Timestamp: b.timestamp,
		Location:  b.location,
	})
	if err != nil {
		// Only non-finite coordinates can fail here; drop generated metadata.
		return ""
	}
	return string(raw)
}

// Build returns the finalised point.
func (b *Builder) Build() Point {
	return Point{
		StreamID:      b.streamID,
		StreamVersion: b.streamVersion,
		Metadata:      b.Metadata(),
		Data:          b.data,
	}
}

// Values returns the built point keyed by column name.
func (b *Builder) Values() map[string]any {
	return b.Build().Values()
}
