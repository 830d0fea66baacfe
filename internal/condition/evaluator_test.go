package condition

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

var errGateway = errors.New("gateway down")

// mockTags is a TagReader backed by a map. Missing tags fail.
type mockTags struct {
	mu     sync.Mutex
	values map[string]float64
	reads  int
}

func (m *mockTags) TagValue(_ context.Context, tagID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	v, ok := m.values[tagID]
	if !ok {
		return 0, errGateway
	}
	return v, nil
}

func TestCompare(t *testing.T) {
	f := sequence.Float
	tests := []struct {
		name  string
		value float64
		c     Comparison
		want  bool
	}{
		{"gt true", 151, Comparison{Operator: sequence.OpGreater, Setpoint: f(150)}, true},
		{"gt equal", 150, Comparison{Operator: sequence.OpGreater, Setpoint: f(150)}, false},
		{"ge equal", 150, Comparison{Operator: sequence.OpGreaterEqual, Setpoint: f(150)}, true},
		{"lt", 1, Comparison{Operator: sequence.OpLess, Setpoint: f(2)}, true},
		{"le", 2, Comparison{Operator: sequence.OpLessEqual, Setpoint: f(2)}, true},
		{"eq epsilon", 5.0000001, Comparison{Operator: sequence.OpEqual, Setpoint: f(5)}, true},
		{"eq outside epsilon", 5.001, Comparison{Operator: sequence.OpEqual, Setpoint: f(5)}, false},
		{"eq tolerance", 5.4, Comparison{Operator: sequence.OpEqual, Setpoint: f(5), Tolerance: 0.5}, true},
		{"ne alias", 3, Comparison{Operator: "!=", Setpoint: f(5)}, true},
		{"ne symbol equal", 5, Comparison{Operator: sequence.OpNotEqual, Setpoint: f(5)}, false},
		{"in range inclusive low", 10, Comparison{Operator: sequence.OpInRange, Min: f(10), Max: f(90)}, true},
		{"in range inclusive high", 90, Comparison{Operator: sequence.OpInRange, Min: f(10), Max: f(90)}, true},
		{"in range below", 9.9, Comparison{Operator: sequence.OpInRange, Min: f(10), Max: f(90)}, false},
		{"out of range edge", 90, Comparison{Operator: sequence.OpOutOfRange, Min: f(10), Max: f(90)}, false},
		{"out of range above", 91, Comparison{Operator: sequence.OpOutOfRange, Min: f(10), Max: f(90)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.value, tt.c)
			if err != nil {
				t.Fatalf("Compare() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%v, %s) = %v, want %v", tt.value, tt.c.Describe(), got, tt.want)
			}
		})
	}
}

func TestCompareErrors(t *testing.T) {
	if _, err := Compare(1, Comparison{Operator: sequence.OpGreater}); !errors.Is(err, ErrMissingOperand) {
		t.Errorf("missing setpoint error = %v", err)
	}
	if _, err := Compare(1, Comparison{Operator: sequence.OpInRange, Min: sequence.Float(0)}); !errors.Is(err, ErrMissingOperand) {
		t.Errorf("missing max error = %v", err)
	}
	if _, err := Compare(1, Comparison{Operator: "~", Setpoint: sequence.Float(0)}); !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("unknown operator error = %v", err)
	}
}

func TestDescribe(t *testing.T) {
	c := Comparison{TagID: "LT-1", Operator: sequence.OpInRange, Min: sequence.Float(10), Max: sequence.Float(90)}
	if got := c.Describe(); got != "LT-1 in_range [10, 90]" {
		t.Errorf("Describe() = %q", got)
	}
	c = Comparison{TagID: "PT-1", Operator: "!=", Setpoint: sequence.Float(2.5)}
	if got := c.Describe(); got != "PT-1 ≠ 2.5" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestCheckConditionReadFailure(t *testing.T) {
	e := New(&mockTags{values: map[string]float64{}})
	res := e.CheckCondition(context.Background(), Comparison{TagID: "PT-1", Operator: sequence.OpLess, Setpoint: sequence.Float(1)})
	if res.Holds {
		t.Error("condition holds despite read failure")
	}
	if !errors.Is(res.Err, errGateway) {
		t.Errorf("Err = %v, want gateway error", res.Err)
	}
	if res.Measured != nil {
		t.Error("Measured set on failure")
	}
}

func interlock(conds ...sequence.InterlockCondition) sequence.Interlock {
	return sequence.Interlock{ID: "il", Name: "test", TriggerAction: sequence.TriggerFullShutdown, Conditions: conds}
}

func gt(tag string, sp float64, logic sequence.LogicOperator) sequence.InterlockCondition {
	return sequence.InterlockCondition{TagID: tag, Operator: sequence.OpGreater, Setpoint: sequence.Float(sp), LogicOperator: logic}
}

func TestEvaluateInterlockFold(t *testing.T) {
	tags := &mockTags{values: map[string]float64{"A": 10, "B": 0, "C": 10}}
	e := New(tags)
	ctx := context.Background()

	tests := []struct {
		name string
		il   sequence.Interlock
		want bool
	}{
		{"single true", interlock(gt("A", 5, "")), true},
		{"single false", interlock(gt("B", 5, "")), false},
		{"and false", interlock(gt("A", 5, sequence.LogicAnd), gt("B", 5, "")), false},
		{"or true", interlock(gt("A", 5, sequence.LogicOr), gt("B", 5, "")), true},
		// (B and A) or C is true; B and (A or C) would be false.
		{"left to right", interlock(gt("B", 5, sequence.LogicAnd), gt("A", 5, sequence.LogicOr), gt("C", 5, "")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.EvaluateInterlock(ctx, tt.il)
			if res.Err != nil {
				t.Fatalf("Err = %v", res.Err)
			}
			if res.Triggered != tt.want {
				t.Errorf("Triggered = %v, want %v", res.Triggered, tt.want)
			}
			if len(res.Conditions) != len(tt.il.Conditions) {
				t.Errorf("Conditions = %d, want %d", len(res.Conditions), len(tt.il.Conditions))
			}
		})
	}
}

func TestEvaluateInterlockFailSafe(t *testing.T) {
	e := New(&mockTags{values: map[string]float64{"A": 0}})
	ctx := context.Background()

	res := e.EvaluateInterlock(ctx, interlock(gt("A", 5, sequence.LogicAnd), gt("missing", 5, "")))
	if !res.Triggered {
		t.Error("unreadable interlock should be reported as triggered")
	}
	if !errors.Is(res.Err, errGateway) {
		t.Errorf("Err = %v, want gateway error", res.Err)
	}

	res = e.EvaluateInterlock(ctx, interlock())
	if !res.Triggered || !errors.Is(res.Err, ErrNoConditions) {
		t.Errorf("empty interlock = %+v", res)
	}
}

func TestCheckPermissive(t *testing.T) {
	tags := &mockTags{values: map[string]float64{"PT": 10.3, "RUN": 1, "OFF": 0}}
	e := New(tags)
	ctx := context.Background()

	tests := []struct {
		name string
		p    sequence.Permissive
		want bool
	}{
		{"value within tolerance", sequence.Permissive{TagID: "PT", RequiredValue: sequence.Float(10), Tolerance: 0.5}, true},
		{"value outside tolerance", sequence.Permissive{TagID: "PT", RequiredValue: sequence.Float(10), Tolerance: 0.1}, false},
		{"value exact default epsilon", sequence.Permissive{TagID: "PT", RequiredValue: sequence.Float(10.3)}, true},
		{"state true", sequence.Permissive{TagID: "RUN", RequiredState: sequence.Bool(true)}, true},
		{"state false wanted", sequence.Permissive{TagID: "RUN", RequiredState: sequence.Bool(false)}, false},
		{"state off", sequence.Permissive{TagID: "OFF", RequiredState: sequence.Bool(false)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.CheckPermissive(ctx, tt.p)
			if res.Err != nil {
				t.Fatalf("Err = %v", res.Err)
			}
			if res.Satisfied != tt.want {
				t.Errorf("Satisfied = %v, want %v (measured %v)", res.Satisfied, tt.want, *res.Measured)
			}
			if res.Expected == nil {
				t.Error("Expected not recorded")
			}
		})
	}
}

func TestCheckPermissiveReadFailure(t *testing.T) {
	e := New(&mockTags{values: map[string]float64{}})
	res := e.CheckPermissive(context.Background(), sequence.Permissive{
		Name: "Flare", TagID: "BS-1", RequiredState: sequence.Bool(true),
	})
	if res.Satisfied {
		t.Error("permissive satisfied despite read failure")
	}
	if !errors.Is(res.Err, errGateway) {
		t.Errorf("Err = %v", res.Err)
	}
}
