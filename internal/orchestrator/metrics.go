package orchestrator

import "time"

// Step outcomes reported to Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeWarning = "warning"
)

// Metrics receives step and execution outcomes. *influxdb.Client
// satisfies it.
type Metrics interface {
	WriteStepOutcome(sequenceID string, stepNumber int, action, outcome string, duration time.Duration)
	WriteExecutionOutcome(sequenceID, sequenceType, status string, emergency bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) WriteStepOutcome(string, int, string, string, time.Duration)       {}
func (noopMetrics) WriteExecutionOutcome(string, string, string, bool, time.Duration) {}
