// Package telemetry supplies live tag values to the condition evaluator.
//
// Values arrive from the plant over MQTT on esd/tag/{system}/{tag} and are
// held in a Cache. Every accepted reading is also written to the TSDB, so
// when a tag is missing from the cache (restart, quiet sensor) the Gateway
// can fall back to the most recent stored sample within the staleness
// window.
//
// A reading with bad quality or one older than the staleness window is an
// error, never a value. Booleans are reported as 1 and 0.
package telemetry
