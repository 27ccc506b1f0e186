// Package logging provides structured logging for labdash.
//
// It wraps log/slog so both binaries emit the same fields:
//
//   - JSON output by default, text when logging.format is "text"
//   - service and version on every entry
//   - level filtering (debug, info, warn, error)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	ch.SetLogger(logger.Component("relay"))
//
// Never log broker passwords or relay tokens.
package logging
