// Package condition evaluates interlocks, permissives and step conditions
// against live tag values.
//
// Tag values come from a TagReader (package telemetry in production).
// Booleans are read as 1 and 0. A read failure never passes: a permissive
// or condition whose tag cannot be read is unsatisfied, and an interlock
// whose tag cannot be read is reported as triggered. The error is kept on
// the result so the caller can write it to the execution log.
package condition
