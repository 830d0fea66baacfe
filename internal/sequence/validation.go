package sequence

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength  = 120
	maxSteps       = 500
	maxTimeoutSecs = 24 * 60 * 60
)

// ValidateSequence checks a sequence and all of its steps.
func ValidateSequence(s *Sequence) error {
	if s == nil {
		return ErrInvalidSequence
	}
	if err := validateName(s.Name, ErrInvalidSequence); err != nil {
		return err
	}
	if s.SiteID == "" {
		return fmt.Errorf("%w: site_id is required", ErrInvalidSequence)
	}
	switch s.Type {
	case TypeShutdown, TypeStartup, TypeRestart, TypeEmergencyStop:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSequence, s.Type)
	}
	if s.EstimatedDurationSeconds < 0 {
		return fmt.Errorf("%w: estimated_duration_seconds must not be negative", ErrInvalidSequence)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidSequence)
	}
	if len(s.Steps) > maxSteps {
		return fmt.Errorf("%w: exceeds maximum of %d steps", ErrInvalidSequence, maxSteps)
	}

	seen := make(map[int]bool, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if seen[st.StepNumber] {
			return fmt.Errorf("%w: duplicate step_number %d", ErrInvalidSequence, st.StepNumber)
		}
		seen[st.StepNumber] = true
		if err := ValidateStep(st); err != nil {
			return fmt.Errorf("step %d: %w", st.StepNumber, err)
		}
	}
	return nil
}

// ValidateStep checks a step's fields and its typed parameters.
func ValidateStep(st *Step) error {
	if st.StepNumber < 1 {
		return fmt.Errorf("%w: step_number must be at least 1", ErrInvalidStep)
	}
	if err := validateName(st.Name, ErrInvalidStep); err != nil {
		return err
	}
	if st.TimeoutSeconds < 0 || st.TimeoutSeconds > maxTimeoutSecs {
		return fmt.Errorf("%w: timeout_seconds must be 0-%d", ErrInvalidStep, maxTimeoutSecs)
	}
	if st.ParallelGroup < 0 {
		return fmt.Errorf("%w: parallel_group must not be negative", ErrInvalidStep)
	}
	if st.Params == nil {
		return fmt.Errorf("%w: missing params for %s", ErrInvalidStep, st.ActionType)
	}
	if st.Params.Action() != st.ActionType {
		return fmt.Errorf("%w: %s params on %s step", ErrInvalidParams, st.Params.Action(), st.ActionType)
	}
	if err := st.Params.Validate(); err != nil {
		return err
	}

	switch p := st.Params.(type) {
	case *IsolateParams:
		if len(p.Points) == 0 && st.TargetAsset == "" {
			return fmt.Errorf("%w: isolate needs points or a target asset", ErrInvalidStep)
		}
	case *VentParams:
		if p.Point == "" && st.TargetPoint() == "" {
			return fmt.Errorf("%w: vent needs a point or a target", ErrInvalidStep)
		}
	case *DepressurizeParams:
		if p.VentPoint == "" && st.TargetPoint() == "" {
			return fmt.Errorf("%w: depressurize needs a vent point or a target", ErrInvalidStep)
		}
	case *CheckConditionParams:
		if p.Tag == "" && st.TargetTag == "" {
			return fmt.Errorf("%w: check_condition needs a tag", ErrInvalidStep)
		}
	case *WaitParams, *AlarmParams:
	default:
		if st.TargetPoint() == "" {
			return fmt.Errorf("%w: %s needs a target asset or tag", ErrInvalidStep, st.ActionType)
		}
	}
	return nil
}

// ValidateInterlock checks an interlock and its conditions.
func ValidateInterlock(il *Interlock) error {
	if il == nil {
		return ErrInvalidInterlock
	}
	if err := validateName(il.Name, ErrInvalidInterlock); err != nil {
		return err
	}
	if il.SiteID == "" {
		return fmt.Errorf("%w: site_id is required", ErrInvalidInterlock)
	}
	switch il.Type {
	case InterlockSafety, InterlockProcess, InterlockEquipment, InterlockEnvironmental:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInterlock, il.Type)
	}
	switch il.TriggerAction {
	case TriggerAlarm, TriggerPartialShutdown, TriggerFullShutdown, TriggerPreventStartup:
	default:
		return fmt.Errorf("%w: unknown trigger_action %q", ErrInvalidInterlock, il.TriggerAction)
	}
	if len(il.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidInterlock)
	}
	for i, c := range il.Conditions {
		if c.TagID == "" {
			return fmt.Errorf("%w: condition %d: tag_id is required", ErrInvalidInterlock, i)
		}
		if err := validateComparison(c.Operator, c.Setpoint, c.Min, c.Max); err != nil {
			return fmt.Errorf("%w: condition %d: %v", ErrInvalidInterlock, i, err)
		}
		switch c.LogicOperator {
		case "", LogicAnd, LogicOr:
		default:
			return fmt.Errorf("%w: condition %d: unknown logic_operator %q", ErrInvalidInterlock, i, c.LogicOperator)
		}
	}
	return nil
}

// ValidatePermissive checks a permissive.
func ValidatePermissive(p *Permissive) error {
	if p == nil {
		return ErrInvalidPermissive
	}
	if err := validateName(p.Name, ErrInvalidPermissive); err != nil {
		return err
	}
	if p.SequenceID == "" && p.StepID == "" {
		return fmt.Errorf("%w: sequence_id or step_id is required", ErrInvalidPermissive)
	}
	if p.TagID == "" {
		return fmt.Errorf("%w: tag_id is required", ErrInvalidPermissive)
	}
	if (p.RequiredValue == nil) == (p.RequiredState == nil) {
		return fmt.Errorf("%w: exactly one of required_value or required_state is required", ErrInvalidPermissive)
	}
	if p.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must not be negative", ErrInvalidPermissive)
	}
	return nil
}

func validateComparison(op Operator, setpoint, lo, hi *float64) error {
	switch op.Normalize() {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		if setpoint == nil {
			return fmt.Errorf("%w: operator %q needs a setpoint", ErrInvalidParams, op)
		}
	case OpInRange, OpOutOfRange:
		if lo == nil || hi == nil {
			return fmt.Errorf("%w: operator %q needs min and max", ErrInvalidParams, op)
		}
		if *lo > *hi {
			return fmt.Errorf("%w: min %v exceeds max %v", ErrInvalidParams, *lo, *hi)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidParams, op)
	}
	return nil
}

func validateName(name string, kind error) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", kind)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", kind, maxNameLength)
	}
	return nil
}

// NewID creates an identifier for catalog entities and executions.
func NewID() string {
	return uuid.New().String()
}
