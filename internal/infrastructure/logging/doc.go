// Package logging provides structured operational logging for the ESD core.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes. Operational logs are separate from the
// per-execution audit trail written by package audit.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log secrets, tokens or password hashes.
package logging
