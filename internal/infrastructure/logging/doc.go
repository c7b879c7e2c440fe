// Package logging provides structured logging for ampmatter-core.
//
// It wraps log/slog so every record carries the service name and build
// version, and lets components derive child loggers with their own
// attributes.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	mqttLog := logger.Component("mqtt.relays")
//	mqttLog.Warn("connection closed", "error", err)
//
// Broker passwords and InfluxDB tokens must never be passed as log attributes.
package logging
