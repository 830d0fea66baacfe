package condition

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// InterlockResult is the outcome of one interlock evaluation.
type InterlockResult struct {
	InterlockID   string                 `json:"interlock_id"`
	Name          string                 `json:"name"`
	TriggerAction sequence.TriggerAction `json:"trigger_action"`
	Triggered     bool                   `json:"triggered"`
	Conditions    []ConditionResult      `json:"conditions"`
	Err           error                  `json:"-"`
}

// EvaluateInterlock folds the interlock's conditions left to right. Each
// condition's logic operator joins it to the next one. If any tag cannot be
// read the interlock is reported as triggered with Err set.
func (e *Evaluator) EvaluateInterlock(ctx context.Context, il sequence.Interlock) InterlockResult {
	res := InterlockResult{
		InterlockID:   il.ID,
		Name:          il.Name,
		TriggerAction: il.TriggerAction,
	}
	if len(il.Conditions) == 0 {
		res.Triggered = true
		res.Err = fmt.Errorf("%w: %s", ErrNoConditions, il.Name)
		return res
	}

	var errs []error
	var acc bool
	for i, c := range il.Conditions {
		cr := e.CheckCondition(ctx, Comparison{
			TagID:    c.TagID,
			Operator: c.Operator,
			Setpoint: c.Setpoint,
			Min:      c.Min,
			Max:      c.Max,
		})
		res.Conditions = append(res.Conditions, cr)
		if cr.Err != nil {
			errs = append(errs, cr.Err)
		}

		if i == 0 {
			acc = cr.Holds
			continue
		}
		if il.Conditions[i-1].LogicOperator == sequence.LogicOr {
			acc = acc || cr.Holds
		} else {
			acc = acc && cr.Holds
		}
	}

	if len(errs) > 0 {
		res.Triggered = true
		res.Err = errors.Join(errs...)
		e.logger.Error("interlock evaluation failed, treating as tripped",
			"interlock", il.Name, "error", res.Err)
		return res
	}

	res.Triggered = acc
	if acc {
		e.logger.Warn("interlock tripped", "interlock", il.Name, "trigger_action", il.TriggerAction)
	}
	return res
}
