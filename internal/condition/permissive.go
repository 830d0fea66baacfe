package condition

import (
	"context"
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// PermissiveResult is the outcome of one permissive check.
type PermissiveResult struct {
	PermissiveID string   `json:"permissive_id"`
	Name         string   `json:"name"`
	TagID        string   `json:"tag_id"`
	Measured     *float64 `json:"measured,omitempty"`
	Expected     *float64 `json:"expected,omitempty"`
	Satisfied    bool     `json:"satisfied"`
	Err          error    `json:"-"`
}

// CheckPermissive compares the live value with the required value within
// tolerance, or with the required state where non-zero reads as true.
func (e *Evaluator) CheckPermissive(ctx context.Context, p sequence.Permissive) PermissiveResult {
	res := PermissiveResult{PermissiveID: p.ID, Name: p.Name, TagID: p.TagID}

	switch {
	case p.RequiredValue != nil:
		res.Expected = p.RequiredValue
	case p.RequiredState != nil:
		res.Expected = sequence.Float(boolValue(*p.RequiredState))
	default:
		res.Err = fmt.Errorf("%w: permissive %s has no required value or state", ErrMissingOperand, p.Name)
		return res
	}

	value, err := e.tags.TagValue(ctx, p.TagID)
	if err != nil {
		e.logger.Error("tag read failed", "tag", p.TagID, "permissive", p.Name, "error", err)
		res.Err = fmt.Errorf("reading %s: %w", p.TagID, err)
		return res
	}
	res.Measured = &value

	if p.RequiredState != nil {
		res.Satisfied = (value != 0) == *p.RequiredState
		return res
	}

	tol := p.Tolerance
	if tol <= 0 {
		tol = Epsilon
	}
	res.Satisfied = math.Abs(value-*p.RequiredValue) <= tol
	return res
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
