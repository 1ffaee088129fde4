// Package mqtt is the MQTT transport for the stream writer.
//
// A Binder owns one paho client per bound writer. Each point is published
// as a JSON envelope to {prefix}/{stream_id}/{stream_version}, and the
// client announces itself on a retained status topic with a Last Will so
// consumers can tell a crashed client from one that unbound cleanly.
//
//	ohmage client ──► MQTT broker ──► stream consumers
//
// # Usage
//
//	binder := mqtt.NewBinder(cfg.MQTT, mqtt.WithLogger(logger))
//	w, err := writer.New(binder)
//	if err != nil {
//	    return err
//	}
//	err = w.Write(point) // buffered until paho reports the session
//
// # Security Considerations
//
//   - Enable cfg.Broker.TLS outside local development
//   - Point payloads are not encrypted beyond TLS transport
package mqtt
