package sequence

import "errors"

// Domain errors for the sequence package. Check with errors.Is.
var (
	ErrSequenceNotFound   = errors.New("sequence: not found")
	ErrSequenceExists     = errors.New("sequence: already exists")
	ErrSequenceInactive   = errors.New("sequence: inactive")
	ErrInvalidSequence    = errors.New("sequence: invalid")
	ErrInvalidStep        = errors.New("sequence: invalid step")
	ErrInvalidParams      = errors.New("sequence: invalid action params")
	ErrInterlockNotFound  = errors.New("sequence: interlock not found")
	ErrInvalidInterlock   = errors.New("sequence: invalid interlock")
	ErrPermissiveNotFound = errors.New("sequence: permissive not found")
	ErrInvalidPermissive  = errors.New("sequence: invalid permissive")
	ErrLevelNotFound      = errors.New("sequence: shutdown level not found")
	ErrInvalidDefinitions = errors.New("sequence: invalid definitions")

	// ErrPlan is returned by Compile when a sequence cannot produce a plan.
	ErrPlan = errors.New("sequence: plan error")
)
