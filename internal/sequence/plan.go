package sequence

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// Stage is a set of steps dispatched together. Group is 0 for a singleton
// stage built from a sequential step.
type Stage struct {
	Index int    `json:"index"`
	Group int    `json:"group"`
	Steps []Step `json:"steps"`
}

// Plan is the compiled, ordered stage list of one sequence.
type Plan struct {
	SequenceID string  `json:"sequence_id"`
	Stages     []Stage `json:"stages"`
}

// Compile turns a sequence into stages.
//
// Steps are ordered by step number. A step with parallel group 0 is its own
// stage. Steps sharing a non-zero group form one stage placed at the lowest
// step number in the group, ties broken by group id. Every step's params
// are validated here, so a plan never carries a malformed step.
func Compile(seq *Sequence) (*Plan, error) {
	if seq == nil {
		return nil, fmt.Errorf("%w: nil sequence", ErrPlan)
	}
	if len(seq.Steps) == 0 {
		return nil, fmt.Errorf("%w: sequence %s has no steps", ErrPlan, seq.ID)
	}

	steps := make([]Step, len(seq.Steps))
	for i, st := range seq.Steps {
		steps[i] = st.copy()
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepNumber < steps[j].StepNumber
	})

	for i := range steps {
		if i > 0 && steps[i].StepNumber == steps[i-1].StepNumber {
			return nil, fmt.Errorf("%w: duplicate step_number %d", ErrPlan, steps[i].StepNumber)
		}
		if err := ValidateStep(&steps[i]); err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrPlan, steps[i].StepNumber, err)
		}
	}

	type pending struct {
		first int
		stage Stage
	}
	var stages []*pending
	byGroup := make(map[int]*pending)

	for _, st := range steps {
		if st.ParallelGroup == 0 {
			stages = append(stages, &pending{first: st.StepNumber, stage: Stage{Steps: []Step{st}}})
			continue
		}
		if p, ok := byGroup[st.ParallelGroup]; ok {
			p.stage.Steps = append(p.stage.Steps, st)
			continue
		}
		p := &pending{first: st.StepNumber, stage: Stage{Group: st.ParallelGroup, Steps: []Step{st}}}
		byGroup[st.ParallelGroup] = p
		stages = append(stages, p)
	}

	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].first != stages[j].first {
			return stages[i].first < stages[j].first
		}
		return stages[i].stage.Group < stages[j].stage.Group
	})

	plan := &Plan{SequenceID: seq.ID, Stages: make([]Stage, len(stages))}
	for i, p := range stages {
		p.stage.Index = i
		plan.Stages[i] = p.stage
	}
	return plan, nil
}

// StepCount returns the number of steps across all stages.
func (p *Plan) StepCount() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.Steps)
	}
	return n
}

// StepNumbers returns step numbers in dispatch order.
func (p *Plan) StepNumbers() []int {
	var out []int
	for _, s := range p.Stages {
		for _, st := range s.Steps {
			out = append(out, st.StepNumber)
		}
	}
	return out
}

// MaxTimeout is the stage's effective bound: the largest step timeout,
// with def standing in for steps stored without one.
func (s Stage) MaxTimeout(def time.Duration) time.Duration {
	var longest time.Duration
	for _, st := range s.Steps {
		if d := StepTimeout(st, def); d > longest {
			longest = d
		}
	}
	return longest
}

// Pauses reports whether any step in the stage is a hold point or needs confirmation.
func (s Stage) Pauses() bool {
	return slices.ContainsFunc(s.Steps, Step.Pauses)
}

// Assets returns the sorted, distinct assets commanded by the stage.
func (s Stage) Assets() []string {
	var out []string
	for _, st := range s.Steps {
		out = append(out, st.Assets()...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// StepTimeout returns the step's own timeout, or def when it has none.
func StepTimeout(st Step, def time.Duration) time.Duration {
	if st.TimeoutSeconds > 0 {
		return time.Duration(st.TimeoutSeconds) * time.Second
	}
	return def
}
