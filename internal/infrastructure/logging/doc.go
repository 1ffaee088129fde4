// Package logging provides structured logging for the stream writer.
//
// It wraps log/slog so every entry carries the service name and version.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("writer connected", "transport", "mqtt")
//
// Never log point payloads at info level; stream data may be personal.
package logging
