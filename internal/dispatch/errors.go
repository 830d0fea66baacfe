package dispatch

import "errors"

var (
	// ErrCommandFailed means a command was not acknowledged after every retry.
	ErrCommandFailed = errors.New("dispatch: command failed")

	// ErrNack means the DCS refused a command.
	ErrNack = errors.New("dispatch: command rejected by DCS")

	// ErrAckTimeout means no acknowledgement arrived in time.
	ErrAckTimeout = errors.New("dispatch: acknowledgement timeout")

	// ErrNoTarget means a step that sends commands has no target point.
	ErrNoTarget = errors.New("dispatch: no target point")
)
