package telemetry

import "errors"

var (
	// ErrTagNotFound means no source holds a value for the tag.
	ErrTagNotFound = errors.New("telemetry: tag not found")

	// ErrBadQuality means the last reading was flagged bad by the source.
	ErrBadQuality = errors.New("telemetry: bad quality")

	// ErrStale means the last reading is older than the staleness window.
	ErrStale = errors.New("telemetry: value stale")

	// ErrInvalidPayload means a tag message could not be decoded.
	ErrInvalidPayload = errors.New("telemetry: invalid payload")
)
