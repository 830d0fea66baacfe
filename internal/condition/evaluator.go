package condition

import (
	"context"
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Epsilon is the equality margin used when no tolerance is configured.
const Epsilon = 1e-6

// TagReader returns the current value of a tag.
type TagReader interface {
	TagValue(ctx context.Context, tagID string) (float64, error)
}

// Logger is the logging interface used by the evaluator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Comparison is one tag test.
type Comparison struct {
	TagID     string
	Operator  sequence.Operator
	Setpoint  *float64
	Min       *float64
	Max       *float64
	Tolerance float64
}

// ConditionResult is the outcome of one comparison.
type ConditionResult struct {
	TagID    string            `json:"tag_id"`
	Operator sequence.Operator `json:"operator"`
	Measured *float64          `json:"measured,omitempty"`
	Expected *float64          `json:"expected,omitempty"`
	Holds    bool              `json:"holds"`
	Err      error             `json:"-"`
}

// Describe renders the comparison for log messages, e.g. "PT-101 > 150".
func (c Comparison) Describe() string {
	switch op := c.Operator.Normalize(); op {
	case sequence.OpInRange, sequence.OpOutOfRange:
		return fmt.Sprintf("%s %s [%s, %s]", c.TagID, op, num(c.Min), num(c.Max))
	default:
		return fmt.Sprintf("%s %s %s", c.TagID, op, num(c.Setpoint))
	}
}

func num(f *float64) string {
	if f == nil {
		return "?"
	}
	return fmt.Sprintf("%g", *f)
}

// Compare applies op to value. Range bounds are inclusive. Equality uses
// tolerance, or Epsilon when tolerance is zero.
func Compare(value float64, c Comparison) (bool, error) {
	tol := c.Tolerance
	if tol <= 0 {
		tol = Epsilon
	}

	op := c.Operator.Normalize()
	if op.IsRange() {
		if c.Min == nil || c.Max == nil {
			return false, fmt.Errorf("%w: %s needs min and max", ErrMissingOperand, op)
		}
		in := value >= *c.Min && value <= *c.Max
		if op == sequence.OpInRange {
			return in, nil
		}
		return !in, nil
	}

	if c.Setpoint == nil {
		return false, fmt.Errorf("%w: %s needs a setpoint", ErrMissingOperand, op)
	}
	sp := *c.Setpoint
	switch op {
	case sequence.OpGreater:
		return value > sp, nil
	case sequence.OpLess:
		return value < sp, nil
	case sequence.OpGreaterEqual:
		return value >= sp, nil
	case sequence.OpLessEqual:
		return value <= sp, nil
	case sequence.OpEqual:
		return math.Abs(value-sp) <= tol, nil
	case sequence.OpNotEqual:
		return math.Abs(value-sp) > tol, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
}

// Evaluator reads tags and applies comparisons. Safe for concurrent use.
type Evaluator struct {
	tags   TagReader
	logger Logger
}

// New creates an evaluator reading from tags.
func New(tags TagReader) *Evaluator {
	return &Evaluator{tags: tags, logger: noopLogger{}}
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// CheckCondition reads the tag once and reports whether the comparison holds.
func (e *Evaluator) CheckCondition(ctx context.Context, c Comparison) ConditionResult {
	res := ConditionResult{TagID: c.TagID, Operator: c.Operator.Normalize(), Expected: c.Setpoint}

	value, err := e.tags.TagValue(ctx, c.TagID)
	if err != nil {
		e.logger.Error("tag read failed", "tag", c.TagID, "error", err)
		res.Err = fmt.Errorf("reading %s: %w", c.TagID, err)
		return res
	}
	res.Measured = &value

	holds, err := Compare(value, c)
	if err != nil {
		res.Err = err
		return res
	}
	res.Holds = holds
	return res
}
