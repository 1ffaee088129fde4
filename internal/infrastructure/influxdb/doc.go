// Package influxdb is the InfluxDB transport for the stream writer.
//
// It wraps the official influxdb-client-go v2 library. Each stream point
// becomes one line protocol point:
//
//	stream_point,stream_id=<id>,stream_version=<n> data="<json>",metadata="<json>"
//
// # Usage
//
//	binder := influxdb.NewBinder(cfg.InfluxDB, influxdb.WithLogger(logger))
//	w, err := writer.New(binder)
//	if err != nil {
//	    return err
//	}
//	err = w.Write(point) // buffered until the first successful ping
//
// # Error Handling
//
// SendPoint only fails when the session is gone. Batch failures are
// delivered asynchronously by the write API; they are logged and counted
// in WriteErrors.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
package influxdb
