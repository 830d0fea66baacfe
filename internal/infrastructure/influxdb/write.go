package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names for execution outcome metrics.
const (
	StepMeasurement      = "esd_step"
	ExecutionMeasurement = "esd_execution"
)

// WriteStepOutcome records how one step ended and how long it took.
//
// outcome is one of "success", "failed", "timeout", "aborted" or "warning"
// (a failed non-blocking step).
func (c *Client) WriteStepOutcome(sequenceID string, stepNumber int, action, outcome string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		StepMeasurement,
		map[string]string{
			"sequence_id": sequenceID,
			"step":        strconv.Itoa(stepNumber),
			"action":      action,
			"outcome":     outcome,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"count":       1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteExecutionOutcome records a terminal execution.
func (c *Client) WriteExecutionOutcome(sequenceID, sequenceType, status string, emergency bool, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		ExecutionMeasurement,
		map[string]string{
			"sequence_id":   sequenceID,
			"sequence_type": sequenceType,
			"status":        status,
			"emergency":     strconv.FormatBool(emergency),
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"count":       1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
