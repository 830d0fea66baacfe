package sequence

import (
	"encoding/json"
	"slices"
	"time"
)

// SequenceType classifies what a sequence does to the plant.
type SequenceType string

const (
	TypeShutdown      SequenceType = "shutdown"
	TypeStartup       SequenceType = "startup"
	TypeRestart       SequenceType = "restart"
	TypeEmergencyStop SequenceType = "emergency_stop"
)

// ActionType is the kind of work a step performs.
type ActionType string

const (
	ActionCloseValve     ActionType = "close_valve"
	ActionOpenValve      ActionType = "open_valve"
	ActionStopPump       ActionType = "stop_pump"
	ActionStartPump      ActionType = "start_pump"
	ActionShutdownWell   ActionType = "shutdown_well"
	ActionDepressurize   ActionType = "depressurize"
	ActionIsolate        ActionType = "isolate"
	ActionVent           ActionType = "vent"
	ActionWait           ActionType = "wait"
	ActionCheckCondition ActionType = "check_condition"
	ActionAlarm          ActionType = "alarm"
	ActionCustom         ActionType = "custom"
)

// AllActionTypes returns every supported action type.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionCloseValve, ActionOpenValve, ActionStopPump, ActionStartPump,
		ActionShutdownWell, ActionDepressurize, ActionIsolate, ActionVent,
		ActionWait, ActionCheckCondition, ActionAlarm, ActionCustom,
	}
}

// SendsCommand reports whether the action produces device commands.
func (a ActionType) SendsCommand() bool {
	switch a {
	case ActionWait, ActionCheckCondition, ActionAlarm:
		return false
	default:
		return true
	}
}

// InterlockType classifies an interlock.
type InterlockType string

const (
	InterlockSafety        InterlockType = "safety"
	InterlockProcess       InterlockType = "process"
	InterlockEquipment     InterlockType = "equipment"
	InterlockEnvironmental InterlockType = "environmental"
)

// TriggerAction is what a tripped interlock demands.
type TriggerAction string

const (
	TriggerAlarm           TriggerAction = "alarm"
	TriggerPartialShutdown TriggerAction = "partial_shutdown"
	TriggerFullShutdown    TriggerAction = "full_shutdown"
	TriggerPreventStartup  TriggerAction = "prevent_startup"
)

// Blocks reports whether a tripped interlock with this action halts a
// sequence of the given type. Alarms never block. prevent_startup only
// blocks sequences that bring plant up.
func (t TriggerAction) Blocks(st SequenceType) bool {
	switch t {
	case TriggerAlarm:
		return false
	case TriggerPreventStartup:
		return st == TypeStartup || st == TypeRestart
	default:
		return true
	}
}

// Operator compares a live tag value against a setpoint or range.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "≠"
	OpInRange      Operator = "in_range"
	OpOutOfRange   Operator = "out_of_range"
)

// Normalize maps accepted spellings onto the canonical operator.
func (o Operator) Normalize() Operator {
	switch o {
	case "!=", "<>":
		return OpNotEqual
	case "==":
		return OpEqual
	default:
		return o
	}
}

// IsRange reports whether the operator uses Min/Max instead of Setpoint.
func (o Operator) IsRange() bool {
	o = o.Normalize()
	return o == OpInRange || o == OpOutOfRange
}

// LogicOperator joins a condition to the next one.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// ShutdownLevel is immutable reference data describing severity tiers.
type ShutdownLevel struct {
	Code                 string `json:"code" yaml:"code"`
	Name                 string `json:"name" yaml:"name"`
	Severity             int    `json:"severity" yaml:"severity"`
	RequiresConfirmation bool   `json:"requires_confirmation" yaml:"requires_confirmation"`
	AutoTriggerEnabled   bool   `json:"auto_trigger_enabled" yaml:"auto_trigger_enabled"`
}

// Sequence is an ordered set of steps driving a shutdown or startup.
type Sequence struct {
	ID                       string       `json:"id"`
	SiteID                   string       `json:"site_id"`
	Name                     string       `json:"name"`
	Type                     SequenceType `json:"type"`
	LevelCode                string       `json:"level_code,omitempty"`
	Description              string       `json:"description,omitempty"`
	EstimatedDurationSeconds int          `json:"estimated_duration_seconds"`
	RequiresOperatorApproval bool         `json:"requires_operator_approval"`
	Active                   bool         `json:"active"`
	Steps                    []Step       `json:"steps"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
}

// Step is one action within a sequence.
//
// ParallelGroup 0 runs alone. Steps sharing a non-zero group run
// concurrently as one stage.
type Step struct {
	ID                   string       `json:"id"`
	SequenceID           string       `json:"sequence_id"`
	StepNumber           int          `json:"step_number"`
	Name                 string       `json:"name"`
	Description          string       `json:"description,omitempty"`
	ActionType           ActionType   `json:"action_type"`
	TargetAsset          string       `json:"target_asset,omitempty"`
	TargetTag            string       `json:"target_tag,omitempty"`
	Params               ActionParams `json:"-"`
	TimeoutSeconds       int          `json:"timeout_seconds"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
	HoldPoint            bool         `json:"hold_point"`
	ParallelGroup        int          `json:"parallel_group"`

	// NonBlocking steps log a warning on failure and let the execution continue.
	NonBlocking bool `json:"non_blocking"`
}

type stepAlias Step

type stepJSON struct {
	stepAlias
	Params json.RawMessage `json:"action_params,omitempty"`
}

// MarshalJSON encodes Params under action_params.
func (s Step) MarshalJSON() ([]byte, error) {
	aux := stepJSON{stepAlias: stepAlias(s)}
	if s.Params != nil {
		raw, err := json.Marshal(s.Params)
		if err != nil {
			return nil, err
		}
		aux.Params = raw
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes action_params into the variant for ActionType.
func (s *Step) UnmarshalJSON(data []byte) error {
	var aux stepJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Step(aux.stepAlias)
	params, err := DecodeParams(s.ActionType, aux.Params)
	if err != nil {
		return err
	}
	s.Params = params
	return nil
}

// TargetPoint is the DCS point a device command addresses: the target
// asset, or the target tag when no asset is set.
func (s Step) TargetPoint() string {
	if s.TargetAsset != "" {
		return s.TargetAsset
	}
	return s.TargetTag
}

// Pauses reports whether the execution must pause after this step.
func (s Step) Pauses() bool {
	return s.HoldPoint || s.RequiresConfirmation
}

// Assets returns the physical assets this step commands.
func (s Step) Assets() []string {
	if !s.ActionType.SendsCommand() {
		return nil
	}
	var assets []string
	if s.TargetAsset != "" {
		assets = append(assets, s.TargetAsset)
	}
	if p, ok := s.Params.(*IsolateParams); ok {
		assets = append(assets, p.Points...)
	}
	if p, ok := s.Params.(*DepressurizeParams); ok && p.VentPoint != "" {
		assets = append(assets, p.VentPoint)
	}
	slices.Sort(assets)
	return slices.Compact(assets)
}

// Interlock is a safety condition that blocks or escalates a sequence.
type Interlock struct {
	ID               string               `json:"id"`
	SiteID           string               `json:"site_id"`
	Name             string               `json:"name"`
	Type             InterlockType        `json:"type"`
	Conditions       []InterlockCondition `json:"conditions"`
	TriggerAction    TriggerAction        `json:"trigger_action"`
	LinkedSequenceID string               `json:"linked_sequence_id,omitempty"`
	Priority         int                  `json:"priority"`
	Active           bool                 `json:"active"`
	BypassAllowed    bool                 `json:"bypass_allowed"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// InterlockCondition is one comparison in an interlock's left-to-right fold.
// LogicOperator joins it to the next condition and is ignored on the last.
type InterlockCondition struct {
	ID            string        `json:"id"`
	TagID         string        `json:"tag_id"`
	Operator      Operator      `json:"operator"`
	Setpoint      *float64      `json:"setpoint,omitempty"`
	Min           *float64      `json:"min,omitempty"`
	Max           *float64      `json:"max,omitempty"`
	LogicOperator LogicOperator `json:"logic_operator"`
}

// Permissive is a precondition for a sequence, or for one step when StepID is set.
type Permissive struct {
	ID            string   `json:"id"`
	SequenceID    string   `json:"sequence_id,omitempty"`
	StepID        string   `json:"step_id,omitempty"`
	Name          string   `json:"name"`
	TagID         string   `json:"tag_id"`
	RequiredValue *float64 `json:"required_value,omitempty"`
	RequiredState *bool    `json:"required_state,omitempty"`
	Tolerance     float64  `json:"tolerance"`
	Active        bool     `json:"active"`
}

// DeepCopy returns an independent copy of the sequence and its steps.
func (s *Sequence) DeepCopy() *Sequence {
	if s == nil {
		return nil
	}
	cpy := *s
	if s.Steps != nil {
		cpy.Steps = make([]Step, len(s.Steps))
		for i, st := range s.Steps {
			cpy.Steps[i] = st.copy()
		}
	}
	return &cpy
}

func (s Step) copy() Step {
	if s.Params != nil {
		s.Params = s.Params.clone()
	}
	return s
}

// DeepCopy returns an independent copy of the interlock and its conditions.
func (i *Interlock) DeepCopy() *Interlock {
	if i == nil {
		return nil
	}
	cpy := *i
	if i.Conditions != nil {
		cpy.Conditions = make([]InterlockCondition, len(i.Conditions))
		for n, c := range i.Conditions {
			c.Setpoint = cloneFloat(c.Setpoint)
			c.Min = cloneFloat(c.Min)
			c.Max = cloneFloat(c.Max)
			cpy.Conditions[n] = c
		}
	}
	return &cpy
}

// DeepCopy returns an independent copy of the permissive.
func (p Permissive) DeepCopy() Permissive {
	p.RequiredValue = cloneFloat(p.RequiredValue)
	if p.RequiredState != nil {
		v := *p.RequiredState
		p.RequiredState = &v
	}
	return p
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v. Handy for setpoints in literals.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
