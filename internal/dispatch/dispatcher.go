package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Defaults applied when Options leaves a field at zero.
const (
	DefaultRetries = 3
	DefaultBackoff = time.Second
)

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tunes retrying. Retries < 0 means no retries.
type Options struct {
	Retries int
	Backoff time.Duration
}

// CommandResult is the final state of one command.
type CommandResult struct {
	Command  Command `json:"command"`
	Attempts int     `json:"attempts"`
	Ack      Ack     `json:"ack"`
}

// Result describes a dispatched step.
type Result struct {
	StepID   string          `json:"step_id"`
	Commands []CommandResult `json:"commands"`
}

// Dispatcher sends the commands of a step with retry.
type Dispatcher struct {
	sender  Sender
	log     CommandLog
	retries int
	backoff time.Duration
	logger  Logger
	now     func() time.Time
}

// New returns a dispatcher over sender.
func New(sender Sender, opts Options) *Dispatcher {
	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	if retries < 0 {
		retries = 0
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Dispatcher{
		sender:  sender,
		retries: retries,
		backoff: backoff,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetCommandLog sets where attempts are recorded.
func (d *Dispatcher) SetCommandLog(log CommandLog) {
	d.log = log
}

// Dispatch sends every command of st in order. The first command that
// exhausts its retries stops the step with ErrCommandFailed. A cancelled
// ctx returns the context error and sends nothing further.
func (d *Dispatcher) Dispatch(ctx context.Context, executionID string, st sequence.Step) (Result, error) {
	res := Result{StepID: st.ID}

	cmds, err := Commands(executionID, st)
	if err != nil {
		return res, err
	}

	for _, cmd := range cmds {
		cr, err := d.send(ctx, cmd)
		res.Commands = append(res.Commands, cr)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, cmd Command) (CommandResult, error) {
	cr := CommandResult{Command: cmd}
	var lastErr error

	for attempt := 1; attempt <= d.retries+1; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * d.backoff
			d.logger.Debug("retrying command", "command_id", cmd.ID, "attempt", attempt, "backoff", wait)
			if err := sleep(ctx, wait); err != nil {
				return cr, err
			}
		}

		cr.Attempts = attempt
		sentAt := d.now()
		ack, err := d.sender.Send(ctx, cmd, attempt)
		outcome, reason := classify(ack, err)
		d.record(ctx, Attempt{
			Command:     cmd,
			Attempt:     attempt,
			Outcome:     outcome,
			Reason:      reason,
			SentAt:      sentAt,
			CompletedAt: d.now(),
		})

		if err != nil && ctx.Err() != nil {
			return cr, ctx.Err()
		}
		if err == nil && ack.Status == StatusAck {
			cr.Ack = ack
			return cr, nil
		}
		if err == nil {
			cr.Ack = ack
			lastErr = fmt.Errorf("%w: %s", ErrNack, ack.Reason)
		} else {
			lastErr = err
		}
		d.logger.Warn("command attempt failed",
			"command_id", cmd.ID,
			"type", cmd.Type,
			"target", cmd.TargetPoint,
			"attempt", attempt,
			"error", lastErr,
		)
	}

	return cr, fmt.Errorf("%w: %s to %s after %d attempts: %w",
		ErrCommandFailed, cmd.Type, cmd.TargetPoint, cr.Attempts, lastErr)
}

func classify(ack Ack, err error) (outcome, reason string) {
	switch {
	case err == nil && ack.Status == StatusAck:
		return OutcomeAcked, ack.Reason
	case err == nil:
		return OutcomeNacked, ack.Reason
	case errors.Is(err, ErrAckTimeout):
		return OutcomeTimeout, err.Error()
	default:
		return OutcomeError, err.Error()
	}
}

// record never fails the step: the audit log already carries the outcome.
func (d *Dispatcher) record(ctx context.Context, a Attempt) {
	if d.log == nil {
		return
	}
	if err := d.log.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		d.logger.Error("recording command attempt failed", "command_id", a.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
