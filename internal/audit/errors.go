package audit

import "errors"

var (
	// ErrStreamClosed means the execution's log was sealed.
	ErrStreamClosed = errors.New("audit: stream closed")

	// ErrInvalidEntry means an entry is missing its execution, level or message.
	ErrInvalidEntry = errors.New("audit: invalid entry")
)
