package tsdb

import "errors"

var (
	// ErrNotConnected is returned after Close or on a nil client.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed is returned when the initial health check fails.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed is delivered to the OnError callback when a flush fails.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrDisabled is returned by Connect when tsdb.enabled is false.
	ErrDisabled = errors.New("tsdb: disabled in configuration")

	// ErrNoData is returned when an instant query matches no series.
	ErrNoData = errors.New("tsdb: no data")

	// ErrBadResponse is returned for a query response that cannot be decoded.
	ErrBadResponse = errors.New("tsdb: unexpected query response")
)
