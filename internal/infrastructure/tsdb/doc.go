// Package tsdb writes tag history to VictoriaMetrics and reads it back.
//
// Writes use InfluxDB line protocol over HTTP; reads use the PromQL query
// API. Only net/http is needed because VictoriaMetrics speaks both.
//
// Every accepted tag reading is stored as measurement esd_tag with field
// value and tags system and tag, so VictoriaMetrics exposes it as
//
//	esd_tag_value{system="scada",tag="PT-101"}
//
// The telemetry gateway falls back to
//
//	last_over_time(esd_tag_value{tag="PT-101"}[30s])
//
// through InstantValue when a tag is missing from its live cache.
//
// # Usage
//
//	client, err := tsdb.Connect(ctx, cfg.TSDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTagValue("scada", "PT-101", 42.5, time.Now())
//
// # Error Handling
//
// Writes never block on HTTP. Batch failures are reported to the callback
// set with SetOnError. Health check and query errors are returned directly.
package tsdb
