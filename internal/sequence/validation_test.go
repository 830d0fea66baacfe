package sequence

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSequence(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Sequence)
		want   error
	}{
		{"valid", func(*Sequence) {}, nil},
		{"empty name", func(s *Sequence) { s.Name = " " }, ErrInvalidSequence},
		{"long name", func(s *Sequence) { s.Name = strings.Repeat("x", maxNameLength+1) }, ErrInvalidSequence},
		{"no site", func(s *Sequence) { s.SiteID = "" }, ErrInvalidSequence},
		{"bad type", func(s *Sequence) { s.Type = "pause" }, ErrInvalidSequence},
		{"no steps", func(s *Sequence) { s.Steps = nil }, ErrInvalidSequence},
		{"duplicate step", func(s *Sequence) { s.Steps[1].StepNumber = 1 }, ErrInvalidSequence},
		{"step zero", func(s *Sequence) { s.Steps[0].StepNumber = 0 }, ErrInvalidStep},
		{"negative timeout", func(s *Sequence) { s.Steps[0].TimeoutSeconds = -1 }, ErrInvalidStep},
		{"negative group", func(s *Sequence) { s.Steps[0].ParallelGroup = -2 }, ErrInvalidStep},
		{"mismatched params", func(s *Sequence) { s.Steps[0].Params = &StopPumpParams{} }, ErrInvalidParams},
		{"no target", func(s *Sequence) { s.Steps[1].TargetAsset = "" }, ErrInvalidStep},
		{"tag target is enough", func(s *Sequence) {
			s.Steps[1].TargetAsset = ""
			s.Steps[1].TargetTag = "P-201.run"
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := testSequence("v")
			tt.mutate(seq)
			err := ValidateSequence(seq)
			if tt.want == nil {
				if err != nil {
					t.Errorf("ValidateSequence() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateSequence() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateStepTargets(t *testing.T) {
	tests := []struct {
		name string
		step Step
		ok   bool
	}{
		{"isolate with points", Step{ActionType: ActionIsolate, Params: &IsolateParams{Points: []string{"XV-1"}}}, true},
		{"isolate bare", Step{ActionType: ActionIsolate, Params: &IsolateParams{}}, false},
		{"vent with point", Step{ActionType: ActionVent, Params: &VentParams{Point: "BDV-1"}}, true},
		{"vent bare", Step{ActionType: ActionVent, Params: &VentParams{}}, false},
		{"check with tag", Step{ActionType: ActionCheckCondition, TargetTag: "PT-1", Params: &CheckConditionParams{Operator: OpLess, Setpoint: Float(5)}}, true},
		{"check bare", Step{ActionType: ActionCheckCondition, Params: &CheckConditionParams{Operator: OpLess, Setpoint: Float(5)}}, false},
		{"alarm needs no target", Step{ActionType: ActionAlarm, Params: &AlarmParams{Message: "m"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.step
			st.StepNumber = 1
			st.Name = "step"
			err := ValidateStep(&st)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateStep() error = %v, ok %v", err, tt.ok)
			}
		})
	}
}

func TestValidateInterlock(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Interlock)
		ok     bool
	}{
		{"valid", func(*Interlock) {}, true},
		{"no site", func(il *Interlock) { il.SiteID = "" }, false},
		{"bad type", func(il *Interlock) { il.Type = "magic" }, false},
		{"bad trigger", func(il *Interlock) { il.TriggerAction = "explode" }, false},
		{"no conditions", func(il *Interlock) { il.Conditions = nil }, false},
		{"no tag", func(il *Interlock) { il.Conditions[0].TagID = "" }, false},
		{"range without max", func(il *Interlock) {
			il.Conditions[0].Operator = OpOutOfRange
			il.Conditions[0].Min = Float(1)
		}, false},
		{"bad logic", func(il *Interlock) { il.Conditions[0].LogicOperator = "XOR" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			il := testInterlock("il", TriggerFullShutdown)
			tt.mutate(il)
			err := ValidateInterlock(il)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateInterlock() error = %v, ok %v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidInterlock) {
				t.Errorf("error = %v, want ErrInvalidInterlock", err)
			}
		})
	}
}

func TestValidatePermissive(t *testing.T) {
	base := func() *Permissive {
		return &Permissive{ID: "p", SequenceID: "s", Name: "Header pressure", TagID: "PT-9", RequiredValue: Float(10)}
	}
	tests := []struct {
		name   string
		mutate func(*Permissive)
		ok     bool
	}{
		{"value", func(*Permissive) {}, true},
		{"state", func(p *Permissive) { p.RequiredValue = nil; p.RequiredState = Bool(true) }, true},
		{"both", func(p *Permissive) { p.RequiredState = Bool(true) }, false},
		{"neither", func(p *Permissive) { p.RequiredValue = nil }, false},
		{"unscoped", func(p *Permissive) { p.SequenceID = "" }, false},
		{"step scoped", func(p *Permissive) { p.SequenceID = ""; p.StepID = "st" }, true},
		{"negative tolerance", func(p *Permissive) { p.Tolerance = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			err := ValidatePermissive(p)
			if (err == nil) != tt.ok {
				t.Errorf("ValidatePermissive() error = %v, ok %v", err, tt.ok)
			}
		})
	}
}

func TestTriggerActionBlocks(t *testing.T) {
	tests := []struct {
		action TriggerAction
		seq    SequenceType
		want   bool
	}{
		{TriggerAlarm, TypeShutdown, false},
		{TriggerAlarm, TypeStartup, false},
		{TriggerPreventStartup, TypeStartup, true},
		{TriggerPreventStartup, TypeRestart, true},
		{TriggerPreventStartup, TypeShutdown, false},
		{TriggerFullShutdown, TypeShutdown, true},
		{TriggerPartialShutdown, TypeEmergencyStop, true},
	}
	for _, tt := range tests {
		if got := tt.action.Blocks(tt.seq); got != tt.want {
			t.Errorf("%s.Blocks(%s) = %v, want %v", tt.action, tt.seq, got, tt.want)
		}
	}
}

func TestOperatorNormalize(t *testing.T) {
	if OpNotEqual != Operator("!=").Normalize() || OpNotEqual != Operator("<>").Normalize() {
		t.Error("!= and <> should normalize to ≠")
	}
	if Operator("==").Normalize() != OpEqual {
		t.Error("== should normalize to =")
	}
	if !OpOutOfRange.IsRange() || OpGreater.IsRange() {
		t.Error("IsRange mismatch")
	}
}
