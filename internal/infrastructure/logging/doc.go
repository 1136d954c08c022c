// Package logging provides structured logging for the relay board core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Size-rotated log files via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/relayboard.log"
//	    max_size: 10     # megabytes
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: false
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("board registered", "ip", "10.8.32.7")
//	logger.Error("push failed", "error", err)
package logging
