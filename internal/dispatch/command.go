package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Command types understood by the DCS bridge.
const (
	TypeValve         = "valve_command"
	TypePump          = "pump_command"
	TypeSpeedSetpoint = "speed_setpoint"
	TypeWell          = "well_command"
	TypeBlowdown      = "blowdown_command"
	TypePressure      = "pressure_setpoint"
	TypeIsolation     = "isolation_command"
	TypeVent          = "vent_command"
)

// Command is one instruction to a DCS point.
type Command struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id,omitempty"`
	Type        string `json:"type"`
	TargetPoint string `json:"target_point"`
	Value       any    `json:"value,omitempty"`
}

// Commands maps a step to its device commands, in send order. wait,
// check_condition and alarm steps yield none.
func Commands(executionID string, st sequence.Step) ([]Command, error) {
	if !st.ActionType.SendsCommand() {
		return nil, nil
	}

	target := st.TargetPoint()
	mk := func(typ, point string, value any) Command {
		return Command{
			ID:          uuid.NewString(),
			ExecutionID: executionID,
			StepID:      st.ID,
			Type:        typ,
			TargetPoint: point,
			Value:       value,
		}
	}
	needTarget := func() error {
		if target == "" {
			return fmt.Errorf("%w: step %d (%s)", ErrNoTarget, st.StepNumber, st.ActionType)
		}
		return nil
	}

	switch p := st.Params.(type) {
	case *sequence.CloseValveParams:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return []Command{mk(TypeValve, target, positionOr(p.Position, "closed"))}, nil

	case *sequence.OpenValveParams:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return []Command{mk(TypeValve, target, positionOr(p.Position, "open"))}, nil

	case *sequence.StopPumpParams:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return []Command{mk(TypePump, target, "stop")}, nil

	case *sequence.StartPumpParams:
		if err := needTarget(); err != nil {
			return nil, err
		}
		cmds := []Command{mk(TypePump, target, "start")}
		if p.SpeedPercent != nil {
			cmds = append(cmds, mk(TypeSpeedSetpoint, target, *p.SpeedPercent))
		}
		return cmds, nil

	case *sequence.ShutdownWellParams:
		if err := needTarget(); err != nil {
			return nil, err
		}
		method := p.Method
		if method == "" {
			method = "shut_in"
		}
		return []Command{mk(TypeWell, target, method)}, nil

	case *sequence.DepressurizeParams:
		vent := p.VentPoint
		if vent == "" {
			vent = target
		}
		if vent == "" {
			return nil, fmt.Errorf("%w: step %d (%s)", ErrNoTarget, st.StepNumber, st.ActionType)
		}
		setpointAt := target
		if setpointAt == "" {
			setpointAt = vent
		}
		return []Command{
			mk(TypeBlowdown, vent, "open"),
			mk(TypePressure, setpointAt, p.TargetPressure),
		}, nil

	case *sequence.IsolateParams:
		points := p.Points
		if len(points) == 0 {
			if st.TargetAsset == "" {
				return nil, fmt.Errorf("%w: step %d (%s)", ErrNoTarget, st.StepNumber, st.ActionType)
			}
			points = []string{st.TargetAsset}
		}
		cmds := make([]Command, 0, len(points))
		for _, pt := range points {
			cmds = append(cmds, mk(TypeIsolation, pt, "isolated"))
		}
		return cmds, nil

	case *sequence.VentParams:
		point := p.Point
		if point == "" {
			point = target
		}
		if point == "" {
			return nil, fmt.Errorf("%w: step %d (%s)", ErrNoTarget, st.StepNumber, st.ActionType)
		}
		return []Command{mk(TypeVent, point, "open")}, nil

	case *sequence.CustomParams:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return []Command{mk(p.CommandType, target, p.Value)}, nil

	default:
		return nil, fmt.Errorf("%w: %s step has %T params", sequence.ErrInvalidParams, st.ActionType, st.Params)
	}
}

func positionOr(pos *float64, word string) any {
	if pos != nil {
		return *pos
	}
	return word
}
