package orchestrator

import "errors"

// Errors returned by the engine. Runtime failures are also recorded in the
// execution log before the execution is marked failed.
var (
	// ErrValidation wraps unknown sequences, inactive sequences, plan
	// errors and malformed requests. No execution is created.
	ErrValidation = errors.New("orchestrator: validation failed")

	// ErrState means the action is not valid in the execution's status.
	ErrState = errors.New("orchestrator: invalid state for action")

	// ErrApprovalRequired means a pending execution was asked to run
	// before approval.
	ErrApprovalRequired = errors.New("orchestrator: approval required")

	// ErrExecutionNotFound means no execution has the given ID.
	ErrExecutionNotFound = errors.New("orchestrator: execution not found")

	// ErrPermissiveNotSatisfied means a permissive did not hold within the wait window.
	ErrPermissiveNotSatisfied = errors.New("orchestrator: permissive not satisfied")

	// ErrInterlockBlocked means a tripped interlock halted the execution.
	ErrInterlockBlocked = errors.New("orchestrator: interlock blocked")

	// ErrStepTimeout means a step did not finish within its timeout.
	ErrStepTimeout = errors.New("orchestrator: step timeout")

	// ErrEngineClosed means the engine is shutting down.
	ErrEngineClosed = errors.New("orchestrator: engine closed")
)
