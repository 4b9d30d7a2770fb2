// Package logging provides structured logging for ziggy.
//
// It wraps log/slog so every component logs through the same handler with
// the same default fields (service, version).
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
//	mqttLog := logger.Component("mqtt")
//	mqttLog.Info("connected", "broker", addr)
//
// Never log broker passwords or JWT secrets.
package logging
