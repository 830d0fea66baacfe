package audit

import (
	"context"
	"time"
)

// Level is the severity of an entry.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelSuccess Level = "SUCCESS"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelSuccess:
		return true
	}
	return false
}

// Entry is one row of an execution's audit trail.
type Entry struct {
	ID          int64          `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id,omitempty"`
	Seq         int64          `json:"seq"`
	Time        time.Time      `json:"time"`
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	Measured    *float64       `json:"measured_value,omitempty"`
	Expected    *float64       `json:"expected_value,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Record is what a caller logs; the writer assigns Seq and Time.
type Record struct {
	StepID   string
	Level    Level
	Message  string
	Measured *float64
	Expected *float64
	Extra    map[string]any
}

// Filter narrows Repository.List. Zero fields match everything.
type Filter struct {
	Level    Level
	StepID   string
	AfterSeq int64
	Limit    int
}

// Repository stores entries.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, executionID string, filter Filter) ([]Entry, error)

	// LastSeq returns the highest stored seq and its time; zero values when
	// the execution has no entries.
	LastSeq(ctx context.Context, executionID string) (int64, time.Time, error)
}
