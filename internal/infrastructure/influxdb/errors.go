package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrNotConnected) {
//	    // Handle disconnected state
//	}
var (
	// ErrNotConnected indicates no healthy session is bound.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates a ping failed or the server was unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
