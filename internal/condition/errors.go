package condition

import "errors"

var (
	// ErrUnknownOperator is returned for an operator the evaluator cannot apply.
	ErrUnknownOperator = errors.New("condition: unknown operator")

	// ErrMissingOperand is returned when a setpoint or range bound is absent.
	ErrMissingOperand = errors.New("condition: missing setpoint or range")

	// ErrNoConditions is returned for an interlock with nothing to evaluate.
	ErrNoConditions = errors.New("condition: interlock has no conditions")
)
