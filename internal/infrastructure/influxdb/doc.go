// Package influxdb records execution outcome metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 non-blocking write API. The
// orchestrator reports every step outcome (measurement esd_step) and every
// terminal execution (measurement esd_execution) with its duration, which
// gives operations a history of how long shutdowns actually take.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteStepOutcome("seq-1", 3, "close_valve", "success", 2*time.Second)
//
// Writes are batched by the client library (batch_size, flush_interval) and
// never block the caller. Asynchronous failures are delivered to the
// callback set with SetOnError.
package influxdb
