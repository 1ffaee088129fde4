package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DefaultMeasurement is used when the config leaves measurement empty.
const DefaultMeasurement = "stream_point"

// sink writes points for one bound session.
type sink struct {
	binder  *Binder
	session *session
}

// SendPoint queues the point on the non-blocking write API. A nil error
// means the point was accepted into the batch buffer.
func (s *sink) SendPoint(streamID string, streamVersion int, metadata, data string) error {
	if s.session.closed.Load() || s.session.writeAPI == nil {
		return ErrNotConnected
	}
	s.session.writeAPI.WritePoint(newPoint(s.binder.cfg.Measurement, streamID, streamVersion, metadata, data, time.Now()))
	return nil
}

// newPoint maps a stream point onto a line protocol point.
//
// Stream id and version are tags so queries can group by stream; the JSON
// payloads are string fields. The metadata field is omitted when empty.
func newPoint(measurement, streamID string, streamVersion int, metadata, data string, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"data": data,
	}
	if metadata != "" {
		fields["metadata"] = metadata
	}

	return write.NewPoint(
		measurement,
		map[string]string{
			"stream_id":      streamID,
			"stream_version": strconv.Itoa(streamVersion),
		},
		fields,
		ts,
	)
}
