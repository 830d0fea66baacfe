package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/condition"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// runStages drives the plan from r.next until it completes, pauses, fails
// or its context ends. Each stage is gated by its permissives and by the
// interlocks, then its steps run concurrently.
func (e *Engine) runStages(ctx context.Context, r *run) {
	r.mu.Lock()
	start := r.next
	r.mu.Unlock()
	stages := r.snap.Plan.Stages

	if start == 0 {
		if err := e.awaitPermissives(ctx, r, r.snap.SequencePermissives()); err != nil {
			e.fail(ctx, r, err)
			return
		}
	}

	for i := start; i < len(stages); i++ {
		if ctx.Err() != nil {
			return
		}
		stage := stages[i]

		if err := e.awaitPermissives(ctx, r, r.snap.StagePermissives(stage)); err != nil {
			e.fail(ctx, r, err)
			return
		}
		if err := e.checkInterlocks(ctx, r); err != nil {
			e.fail(ctx, r, err)
			return
		}

		var assets []string
		if e.opts.AssetLocking {
			assets = stage.Assets()
		}
		var waitNoteErr error
		err := e.locks.acquire(ctx, r.id, assets, func(asset, holder string) {
			waitNoteErr = e.note(ctx, r, audit.Record{
				StepID:  stage.Steps[0].ID,
				Level:   audit.LevelInfo,
				Message: fmt.Sprintf("waiting for asset %s held by execution %s", asset, holder),
				Extra:   map[string]any{"asset": asset, "holder": holder},
			})
		})
		if err != nil {
			return
		}
		if waitNoteErr != nil {
			e.locks.release(r.id, assets)
			e.fail(ctx, r, waitNoteErr)
			return
		}

		e.setCurrentStep(ctx, r, stage.Steps[0].ID)
		err = e.runStage(ctx, r, stage)
		e.locks.release(r.id, assets)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.fail(ctx, r, err)
			return
		}

		r.mu.Lock()
		r.next = i + 1
		r.mu.Unlock()

		if stage.Pauses() {
			e.pause(ctx, r, stage)
			return
		}
	}
	e.complete(ctx, r)
}

// runStage runs every step of the stage concurrently and returns the
// first blocking failure in step order.
func (e *Engine) runStage(ctx context.Context, r *run, stage sequence.Stage) error {
	if len(stage.Steps) == 1 {
		return e.runStep(ctx, r, stage.Steps[0])
	}

	errs := make([]error, len(stage.Steps))
	var wg sync.WaitGroup
	for i, st := range stage.Steps {
		wg.Add(1)
		go func(i int, st sequence.Step) {
			defer wg.Done()
			errs[i] = e.runStep(ctx, r, st)
		}(i, st)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// stepOutcome carries what a step measured for its log entry.
type stepOutcome struct {
	measured *float64
	expected *float64
	extra    map[string]any
}

// runStep performs one step within its timeout and logs the outcome. A
// failed non-blocking step is logged as a warning and returns nil.
func (e *Engine) runStep(ctx context.Context, r *run, st sequence.Step) error {
	timeout := sequence.StepTimeout(st, e.opts.DefaultStepTimeout)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seqID := r.snap.Sequence.ID
	started := e.now()
	if err := e.note(ctx, r, audit.Record{
		StepID:  st.ID,
		Level:   audit.LevelInfo,
		Message: fmt.Sprintf("step %d started: %s", st.StepNumber, st.Name),
		Extra: map[string]any{
			"action":          string(st.ActionType),
			"parallel_group":  st.ParallelGroup,
			"timeout_seconds": timeout.Seconds(),
		},
	}); err != nil {
		return err
	}

	out, err := e.perform(sctx, r, st)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	elapsed := e.now().Sub(started)
	if err != nil && !errors.Is(err, ErrStepTimeout) && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: no result after %s: %w", ErrStepTimeout, timeout, err)
	}

	extra := out.extra
	if extra == nil {
		extra = make(map[string]any)
	}
	extra["action"] = string(st.ActionType)
	extra["duration_ms"] = elapsed.Milliseconds()

	if err == nil {
		e.metrics.WriteStepOutcome(seqID, st.StepNumber, string(st.ActionType), OutcomeSuccess, elapsed)
		return e.note(ctx, r, audit.Record{
			StepID:   st.ID,
			Level:    audit.LevelSuccess,
			Message:  fmt.Sprintf("step %d completed: %s", st.StepNumber, st.Name),
			Measured: out.measured,
			Expected: out.expected,
			Extra:    extra,
		})
	}

	extra["error"] = err.Error()
	if st.NonBlocking {
		e.metrics.WriteStepOutcome(seqID, st.StepNumber, string(st.ActionType), OutcomeWarning, elapsed)
		e.logger.Warn("non-blocking step failed", "execution_id", r.id, "step", st.StepNumber, "error", err)
		_ = e.note(ctx, r, audit.Record{
			StepID:   st.ID,
			Level:    audit.LevelWarning,
			Message:  fmt.Sprintf("step %d failed, continuing: %v", st.StepNumber, err),
			Measured: out.measured,
			Expected: out.expected,
			Extra:    extra,
		})
		return nil
	}

	outcome := OutcomeFailed
	if errors.Is(err, ErrStepTimeout) {
		outcome = OutcomeTimeout
	}
	e.metrics.WriteStepOutcome(seqID, st.StepNumber, string(st.ActionType), outcome, elapsed)
	e.logger.Error("step failed", "execution_id", r.id, "step", st.StepNumber, "error", err)
	_ = e.note(ctx, r, audit.Record{
		StepID:   st.ID,
		Level:    audit.LevelError,
		Message:  fmt.Sprintf("step %d failed: %v", st.StepNumber, err),
		Measured: out.measured,
		Expected: out.expected,
		Extra:    extra,
	})
	return fmt.Errorf("step %d (%s): %w", st.StepNumber, st.Name, err)
}

// perform does the work of one step.
func (e *Engine) perform(ctx context.Context, r *run, st sequence.Step) (stepOutcome, error) {
	switch p := st.Params.(type) {
	case *sequence.WaitParams:
		d := time.Duration(p.DurationSeconds * float64(time.Second))
		if err := sleep(ctx, d); err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{extra: map[string]any{"waited_seconds": p.DurationSeconds}}, nil

	case *sequence.CheckConditionParams:
		return e.pollCondition(ctx, st, p)

	case *sequence.AlarmParams:
		err := e.note(ctx, r, audit.Record{
			StepID:  st.ID,
			Level:   audit.Level(p.EffectiveSeverity()),
			Message: "alarm: " + p.Message,
		})
		return stepOutcome{extra: map[string]any{"severity": p.EffectiveSeverity()}}, err
	}

	res, err := e.dispatcher.Dispatch(ctx, r.id, st)
	out := stepOutcome{extra: map[string]any{"commands": len(res.Commands)}}
	attempts := 0
	for _, c := range res.Commands {
		attempts += c.Attempts
	}
	out.extra["attempts"] = attempts
	return out, err
}

// pollCondition re-reads the condition every poll interval until it holds
// or ctx ends.
func (e *Engine) pollCondition(ctx context.Context, st sequence.Step, p *sequence.CheckConditionParams) (stepOutcome, error) {
	cmp := condition.Comparison{
		TagID:     p.Tag,
		Operator:  p.Operator,
		Setpoint:  p.Setpoint,
		Min:       p.Min,
		Max:       p.Max,
		Tolerance: p.Tolerance,
	}
	if cmp.TagID == "" {
		cmp.TagID = st.TargetTag
	}
	desc := cmp.Describe()

	for {
		res := e.eval.CheckCondition(ctx, cmp)
		out := stepOutcome{
			measured: res.Measured,
			expected: res.Expected,
			extra:    map[string]any{"condition": desc},
		}
		if res.Err == nil && res.Holds {
			return out, nil
		}
		if errors.Is(res.Err, condition.ErrUnknownOperator) || errors.Is(res.Err, condition.ErrMissingOperand) {
			return out, res.Err
		}

		if err := sleep(ctx, e.opts.PollInterval); err != nil {
			if res.Err != nil {
				return out, fmt.Errorf("%w: %s not confirmed: %w", ErrStepTimeout, desc, res.Err)
			}
			return out, fmt.Errorf("%w: %s not met (measured %s)", ErrStepTimeout, desc, formatValue(res.Measured))
		}
	}
}

// awaitPermissives polls until every permissive is satisfied or the wait
// window closes. The first miss of each permissive is logged as a warning.
func (e *Engine) awaitPermissives(ctx context.Context, r *run, perms []sequence.Permissive) error {
	if len(perms) == 0 {
		return nil
	}

	deadline := e.now().Add(e.opts.PermissiveWait)
	reported := make(map[string]bool)
	for {
		results := make([]condition.PermissiveResult, len(perms))
		var missing []int
		for i, p := range perms {
			results[i] = e.eval.CheckPermissive(ctx, p)
			if results[i].Satisfied {
				continue
			}
			missing = append(missing, i)
			if reported[p.ID] {
				continue
			}
			reported[p.ID] = true
			msg := fmt.Sprintf("waiting for permissive %q", p.Name)
			if results[i].Err != nil {
				msg = fmt.Sprintf("permissive %q unreadable: %v", p.Name, results[i].Err)
			}
			if err := e.note(ctx, r, audit.Record{
				StepID:   p.StepID,
				Level:    audit.LevelWarning,
				Message:  msg,
				Measured: results[i].Measured,
				Expected: results[i].Expected,
				Extra:    map[string]any{"permissive_id": p.ID, "tag": p.TagID},
			}); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if len(missing) == 0 {
			for i, p := range perms {
				if err := e.note(ctx, r, audit.Record{
					StepID:   p.StepID,
					Level:    audit.LevelInfo,
					Message:  fmt.Sprintf("permissive %q satisfied", p.Name),
					Measured: results[i].Measured,
					Expected: results[i].Expected,
					Extra:    map[string]any{"permissive_id": p.ID, "tag": p.TagID},
				}); err != nil {
					return err
				}
			}
			return nil
		}

		if !e.now().Before(deadline) {
			p, res := perms[missing[0]], results[missing[0]]
			if err := e.note(ctx, r, audit.Record{
				StepID:   p.StepID,
				Level:    audit.LevelError,
				Message:  fmt.Sprintf("permissive %q not satisfied within %s", p.Name, e.opts.PermissiveWait),
				Measured: res.Measured,
				Expected: res.Expected,
				Extra:    map[string]any{"permissive_id": p.ID, "tag": p.TagID},
			}); err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("%w: %s: %w", ErrPermissiveNotSatisfied, p.Name, res.Err)
			}
			return fmt.Errorf("%w: %s (%s measured %s, required %s)",
				ErrPermissiveNotSatisfied, p.Name, p.TagID, formatValue(res.Measured), formatValue(res.Expected))
		}

		if err := sleep(ctx, e.opts.PollInterval); err != nil {
			return err
		}
	}
}

// checkInterlocks evaluates every interlock in priority order. A tripped
// interlock is always published. Alarm-only trips, and prevent_startup on
// a shutdown, are logged once as warnings. Any other trip halts the
// execution. Linked sequences are never started automatically.
func (e *Engine) checkInterlocks(ctx context.Context, r *run) error {
	r.mu.Lock()
	bypass := r.exec.BypassInterlocks
	seqType := r.exec.SequenceType
	r.mu.Unlock()

	for _, il := range r.snap.Interlocks {
		if bypass && il.BypassAllowed {
			e.noteOnce(ctx, r, "bypass:"+il.ID, audit.Record{
				Level:   audit.LevelWarning,
				Message: fmt.Sprintf("interlock %q bypassed", il.Name),
				Extra:   map[string]any{"interlock_id": il.ID},
			})
			continue
		}

		res := e.eval.EvaluateInterlock(ctx, il)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !res.Triggered {
			continue
		}

		blocks := il.TriggerAction.Blocks(seqType)
		e.events.publish(Event{
			Type:             EventInterlockTripped,
			ExecutionID:      r.id,
			Time:             e.now().UTC(),
			Interlock:        &res,
			LinkedSequenceID: il.LinkedSequenceID,
			Blocking:         blocks,
		})

		measured, expected := firstHeld(res)
		extra := map[string]any{
			"interlock_id":   il.ID,
			"trigger_action": string(il.TriggerAction),
			"conditions":     summarize(res),
		}
		if il.LinkedSequenceID != "" {
			extra["linked_sequence_id"] = il.LinkedSequenceID
		}

		msg := fmt.Sprintf("interlock %q tripped (%s): %s", il.Name, il.TriggerAction, summarize(res))
		if res.Err != nil {
			msg = fmt.Sprintf("interlock %q could not be evaluated, treated as tripped: %v", il.Name, res.Err)
		}

		if !blocks {
			e.noteOnce(ctx, r, "alarm:"+il.ID, audit.Record{
				Level:    audit.LevelWarning,
				Message:  msg,
				Measured: measured,
				Expected: expected,
				Extra:    extra,
			})
			continue
		}

		e.logger.Warn("interlock blocked execution", "execution_id", r.id, "interlock", il.ID, "action", il.TriggerAction)
		_ = e.note(ctx, r, audit.Record{
			Level:    audit.LevelError,
			Message:  msg,
			Measured: measured,
			Expected: expected,
			Extra:    extra,
		})
		return fmt.Errorf("%w: %s (%s)", ErrInterlockBlocked, il.Name, il.TriggerAction)
	}
	return nil
}

// firstHeld returns the values of the first condition that held, or of
// the first condition when none did.
func firstHeld(res condition.InterlockResult) (*float64, *float64) {
	for _, c := range res.Conditions {
		if c.Holds {
			return c.Measured, c.Expected
		}
	}
	if len(res.Conditions) > 0 {
		return res.Conditions[0].Measured, res.Conditions[0].Expected
	}
	return nil, nil
}

// summarize renders held conditions as "PT-101=151.5 (> 150)".
func summarize(res condition.InterlockResult) string {
	var parts []string
	for _, c := range res.Conditions {
		if !c.Holds {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s (%s %s)", c.TagID, formatValue(c.Measured), c.Operator, formatValue(c.Expected)))
	}
	if len(parts) == 0 {
		return "no condition readable"
	}
	return strings.Join(parts, ", ")
}

func formatValue(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return fmt.Sprintf("%g", *f)
}

func (e *Engine) setCurrentStep(ctx context.Context, r *run, stepID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborting || r.exec.CurrentStepID == stepID {
		return
	}
	_ = e.commit(ctx, r, func(x *Execution) { x.CurrentStepID = stepID })
}

// pause holds the execution after a stage with a hold point.
func (e *Engine) pause(ctx context.Context, r *run, stage sequence.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborting || ctx.Err() != nil {
		return
	}

	var hold sequence.Step
	for _, st := range stage.Steps {
		if st.Pauses() {
			hold = st
		}
	}
	reason := "hold point"
	if hold.RequiresConfirmation {
		reason = "confirmation required"
	}
	_ = e.note(ctx, r, audit.Record{
		StepID:  hold.ID,
		Level:   audit.LevelInfo,
		Message: fmt.Sprintf("paused after step %d (%s): waiting for operator to continue", hold.StepNumber, reason),
	})
	if err := e.commit(ctx, r, func(x *Execution) { x.Status = StatusPaused }); err != nil {
		return
	}
	e.logger.Info("execution paused", "execution_id", r.id, "step", hold.StepNumber)
	e.publishStatus(r)
}

func (e *Engine) complete(ctx context.Context, r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborting || ctx.Err() != nil {
		return
	}
	plan := r.snap.Plan
	e.finish(ctx, r, StatusCompleted, audit.Record{
		Level:   audit.LevelInfo,
		Message: fmt.Sprintf("execution completed: %d steps in %d stages", plan.StepCount(), len(plan.Stages)),
	}, "", nil)
}

func (e *Engine) fail(ctx context.Context, r *run, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborting || ctx.Err() != nil {
		return
	}
	e.finish(ctx, r, StatusFailed, audit.Record{
		Level:   audit.LevelError,
		Message: "execution failed: " + cause.Error(),
	}, cause.Error(), nil)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
