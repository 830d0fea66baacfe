package sequence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ActionParams is the typed parameter block of a step. There is exactly one
// variant per ActionType and the set is closed.
type ActionParams interface {
	Action() ActionType
	Validate() error
	clone() ActionParams
}

// CloseValveParams closes a valve. Position is an optional percent-open
// target for throttling; nil means fully closed.
type CloseValveParams struct {
	Position *float64 `json:"position,omitempty"`
}

// OpenValveParams opens a valve, optionally to a percent-open position.
type OpenValveParams struct {
	Position *float64 `json:"position,omitempty"`
}

// StopPumpParams carries nothing; the target asset is the pump.
type StopPumpParams struct{}

// StartPumpParams starts a pump, optionally at a speed setpoint.
type StartPumpParams struct {
	SpeedPercent *float64 `json:"speed_percent,omitempty"`
}

// ShutdownWellParams shuts in a well. Method defaults to "shut_in".
type ShutdownWellParams struct {
	Method string `json:"method,omitempty"`
}

// DepressurizeParams opens a blowdown and drives pressure toward TargetPressure.
// VentPoint defaults to the step's target asset.
type DepressurizeParams struct {
	TargetPressure float64 `json:"target_pressure"`
	VentPoint      string  `json:"vent_point,omitempty"`
}

// IsolateParams isolates each listed point. An empty list isolates the
// step's target asset.
type IsolateParams struct {
	Points []string `json:"points,omitempty"`
}

// VentParams opens a vent. Point defaults to the step's target asset.
type VentParams struct {
	Point string `json:"point,omitempty"`
}

// WaitParams suspends the step for a fixed duration.
type WaitParams struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

// CheckConditionParams polls a tag until the comparison holds.
// Tag defaults to the step's target tag.
type CheckConditionParams struct {
	Tag       string   `json:"tag,omitempty"`
	Operator  Operator `json:"operator"`
	Setpoint  *float64 `json:"setpoint,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Tolerance float64  `json:"tolerance,omitempty"`
}

// AlarmParams raises an operator alarm in the execution log.
type AlarmParams struct {
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// CustomParams sends an arbitrary command type to the step's target point.
type CustomParams struct {
	CommandType string `json:"command_type"`
	Value       any    `json:"value,omitempty"`
}

// Alarm severities accepted by AlarmParams.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

func (*CloseValveParams) Action() ActionType     { return ActionCloseValve }
func (*OpenValveParams) Action() ActionType      { return ActionOpenValve }
func (*StopPumpParams) Action() ActionType       { return ActionStopPump }
func (*StartPumpParams) Action() ActionType      { return ActionStartPump }
func (*ShutdownWellParams) Action() ActionType   { return ActionShutdownWell }
func (*DepressurizeParams) Action() ActionType   { return ActionDepressurize }
func (*IsolateParams) Action() ActionType        { return ActionIsolate }
func (*VentParams) Action() ActionType           { return ActionVent }
func (*WaitParams) Action() ActionType           { return ActionWait }
func (*CheckConditionParams) Action() ActionType { return ActionCheckCondition }
func (*AlarmParams) Action() ActionType          { return ActionAlarm }
func (*CustomParams) Action() ActionType         { return ActionCustom }

func validPosition(p *float64, field string) error {
	if p != nil && (*p < 0 || *p > 100) {
		return fmt.Errorf("%w: %s must be 0-100", ErrInvalidParams, field)
	}
	return nil
}

func (p *CloseValveParams) Validate() error { return validPosition(p.Position, "position") }
func (p *OpenValveParams) Validate() error  { return validPosition(p.Position, "position") }
func (*StopPumpParams) Validate() error     { return nil }
func (p *StartPumpParams) Validate() error  { return validPosition(p.SpeedPercent, "speed_percent") }

func (p *ShutdownWellParams) Validate() error {
	switch p.Method {
	case "", "shut_in", "choke_close", "kill":
		return nil
	default:
		return fmt.Errorf("%w: unknown shutdown method %q", ErrInvalidParams, p.Method)
	}
}

func (p *DepressurizeParams) Validate() error {
	if p.TargetPressure < 0 {
		return fmt.Errorf("%w: target_pressure must not be negative", ErrInvalidParams)
	}
	return nil
}

func (p *IsolateParams) Validate() error {
	if slices.Contains(p.Points, "") {
		return fmt.Errorf("%w: points must not contain empty entries", ErrInvalidParams)
	}
	return nil
}

func (*VentParams) Validate() error { return nil }

func (p *WaitParams) Validate() error {
	if p.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration_seconds must be positive", ErrInvalidParams)
	}
	return nil
}

func (p *CheckConditionParams) Validate() error {
	return validateComparison(p.Operator, p.Setpoint, p.Min, p.Max)
}

func (p *AlarmParams) Validate() error {
	switch strings.ToUpper(p.Severity) {
	case "", SeverityInfo, SeverityWarning, SeverityError:
	default:
		return fmt.Errorf("%w: unknown alarm severity %q", ErrInvalidParams, p.Severity)
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: alarm message is required", ErrInvalidParams)
	}
	return nil
}

func (p *CustomParams) Validate() error {
	if strings.TrimSpace(p.CommandType) == "" {
		return fmt.Errorf("%w: command_type is required", ErrInvalidParams)
	}
	return nil
}

// EffectiveSeverity returns the upper-cased severity, WARNING when unset.
func (p *AlarmParams) EffectiveSeverity() string {
	if p.Severity == "" {
		return SeverityWarning
	}
	return strings.ToUpper(p.Severity)
}

func (p *CloseValveParams) clone() ActionParams {
	return &CloseValveParams{Position: cloneFloat(p.Position)}
}

func (p *OpenValveParams) clone() ActionParams {
	return &OpenValveParams{Position: cloneFloat(p.Position)}
}

func (*StopPumpParams) clone() ActionParams { return &StopPumpParams{} }

func (p *StartPumpParams) clone() ActionParams {
	return &StartPumpParams{SpeedPercent: cloneFloat(p.SpeedPercent)}
}

func (p *ShutdownWellParams) clone() ActionParams   { c := *p; return &c }
func (p *DepressurizeParams) clone() ActionParams   { c := *p; return &c }
func (p *VentParams) clone() ActionParams           { c := *p; return &c }
func (p *WaitParams) clone() ActionParams           { c := *p; return &c }
func (p *AlarmParams) clone() ActionParams          { c := *p; return &c }
func (p *IsolateParams) clone() ActionParams        { return &IsolateParams{Points: slices.Clone(p.Points)} }
func (p *CheckConditionParams) clone() ActionParams {
	c := *p
	c.Setpoint = cloneFloat(p.Setpoint)
	c.Min = cloneFloat(p.Min)
	c.Max = cloneFloat(p.Max)
	return &c
}

// CustomParams.Value is scalar or a JSON-decoded tree; a round trip through
// JSON is the simplest faithful copy.
func (p *CustomParams) clone() ActionParams {
	c := &CustomParams{CommandType: p.CommandType}
	if p.Value != nil {
		if raw, err := json.Marshal(p.Value); err == nil {
			_ = json.Unmarshal(raw, &c.Value) //nolint:errcheck // marshalled above
		}
	}
	return c
}

// newParams returns the empty variant for an action type.
func newParams(a ActionType) (ActionParams, error) {
	switch a {
	case ActionCloseValve:
		return &CloseValveParams{}, nil
	case ActionOpenValve:
		return &OpenValveParams{}, nil
	case ActionStopPump:
		return &StopPumpParams{}, nil
	case ActionStartPump:
		return &StartPumpParams{}, nil
	case ActionShutdownWell:
		return &ShutdownWellParams{}, nil
	case ActionDepressurize:
		return &DepressurizeParams{}, nil
	case ActionIsolate:
		return &IsolateParams{}, nil
	case ActionVent:
		return &VentParams{}, nil
	case ActionWait:
		return &WaitParams{}, nil
	case ActionCheckCondition:
		return &CheckConditionParams{}, nil
	case ActionAlarm:
		return &AlarmParams{}, nil
	case ActionCustom:
		return &CustomParams{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidStep, a)
	}
}

// DecodeParams decodes raw JSON into the variant for the action type.
// Fields that do not belong to the variant are rejected. Empty input yields
// the zero variant; Validate is not called.
func DecodeParams(a ActionType, raw json.RawMessage) (ActionParams, error) {
	params, err := newParams(a)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return params, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(params); err != nil {
		return nil, fmt.Errorf("%w: %s params: %v", ErrInvalidParams, a, err)
	}
	return params, nil
}
