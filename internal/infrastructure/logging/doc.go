// Package logging provides structured logging for brewlogic.
//
// It wraps log/slog so every entry carries the service name and build
// version, with JSON output for deployments and text output for a terminal.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("recipe started", "recipe", key, "run_id", runID)
//
// Never log secrets such as the JWT secret or MQTT password.
package logging
