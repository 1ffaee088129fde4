// Package kafka is the Kafka transport for the stream writer.
//
// Each point is produced to the configured topic with the stream id as key
// and the JSON envelope as value. The stream version travels in a
// "stream_version" header.
//
// A failed produce is returned to the writer and also reported as a lost
// connection: the producer is closed, the writer goes back to buffering,
// and the binder dials until a broker answers again.
//
//	binder := kafka.NewBinder(cfg.Kafka, kafka.WithClientID(cfg.Client.ID))
//	w, err := writer.New(binder)
package kafka
