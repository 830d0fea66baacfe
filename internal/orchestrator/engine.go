package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/condition"
	"github.com/nerrad567/gray-logic-esd/internal/dispatch"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Defaults used when Options leave a field zero.
const (
	DefaultStepTimeout    = 60 * time.Second
	DefaultPermissiveWait = 30 * time.Second
	DefaultPollInterval   = time.Second
)

// Logger is the logging interface used by the engine.
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

// SnapshotSource freezes a sequence for execution. *sequence.Catalog satisfies it.
type SnapshotSource interface {
	Snapshot(ctx context.Context, sequenceID string) (*sequence.Snapshot, error)
}

// Evaluator checks interlocks, permissives and step conditions against
// live tags. *condition.Evaluator satisfies it.
type Evaluator interface {
	EvaluateInterlock(ctx context.Context, il sequence.Interlock) condition.InterlockResult
	CheckPermissive(ctx context.Context, p sequence.Permissive) condition.PermissiveResult
	CheckCondition(ctx context.Context, c condition.Comparison) condition.ConditionResult
}

// Dispatcher sends a step's device commands. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, executionID string, st sequence.Step) (dispatch.Result, error)
}

// AuditLog is the append-only execution log. *audit.Writer satisfies it.
type AuditLog interface {
	Log(ctx context.Context, executionID string, rec audit.Record) (audit.Entry, error)
	Close(executionID string)
	Entries(ctx context.Context, executionID string, filter audit.Filter) ([]audit.Entry, error)
}

// Deps are the collaborators of an Engine. Metrics and Logger are optional.
type Deps struct {
	Catalog    SnapshotSource
	Evaluator  Evaluator
	Dispatcher Dispatcher
	Audit      AuditLog
	Repository Repository
	Metrics    Metrics
	Logger     Logger
}

// Options tune execution timing.
type Options struct {
	DefaultStepTimeout time.Duration
	PermissiveWait     time.Duration
	PollInterval       time.Duration

	// AssetLocking serialises stages of different executions that command
	// the same asset.
	AssetLocking bool
}

// OptionsFromConfig maps the sequencer section of the configuration.
func OptionsFromConfig(cfg config.SequencerConfig) Options {
	return Options{
		DefaultStepTimeout: cfg.DefaultStepTimeout(),
		PermissiveWait:     cfg.PermissiveWait(),
		PollInterval:       cfg.PollInterval(),
		AssetLocking:       cfg.AssetLocking,
	}
}

// run is the in-memory state of a non-terminal execution.
type run struct {
	id   string
	snap *sequence.Snapshot

	mu       sync.Mutex
	exec     *Execution
	next     int
	cancel   context.CancelFunc
	done     chan struct{}
	aborting bool
	started  time.Time
	noted    map[string]bool
}

// Engine runs executions: approval gating, the stage loop, operator
// control and the audit trail.
type Engine struct {
	catalog    SnapshotSource
	eval       Evaluator
	dispatcher Dispatcher
	audit      AuditLog
	repo       Repository
	metrics    Metrics
	logger     Logger
	opts       Options
	locks      *assetLocks
	events     *eventBus
	now        func() time.Time

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine. Catalog, Evaluator, Dispatcher, Audit and
// Repository are required.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("orchestrator: catalog is required")
	case deps.Evaluator == nil:
		return nil, errors.New("orchestrator: evaluator is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	case deps.Audit == nil:
		return nil, errors.New("orchestrator: audit log is required")
	case deps.Repository == nil:
		return nil, errors.New("orchestrator: repository is required")
	}
	if opts.DefaultStepTimeout <= 0 {
		opts.DefaultStepTimeout = DefaultStepTimeout
	}
	if opts.PermissiveWait < 0 {
		opts.PermissiveWait = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Engine{
		catalog:    deps.Catalog,
		eval:       deps.Evaluator,
		dispatcher: deps.Dispatcher,
		audit:      deps.Audit,
		repo:       deps.Repository,
		metrics:    metrics,
		logger:     logger,
		opts:       opts,
		locks:      newAssetLocks(),
		events:     newEventBus(logger),
		now:        time.Now,
		runs:       make(map[string]*run),
	}, nil
}

// Subscribe returns a channel of engine events and a function that
// unsubscribes. Slow subscribers lose events.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe()
}

// PublishEntry forwards an audit entry to subscribers. Wire it to
// audit.Writer.OnAppend.
func (e *Engine) PublishEntry(entry audit.Entry) {
	cpy := entry
	e.events.publish(Event{
		Type:        EventLog,
		ExecutionID: entry.ExecutionID,
		Time:        entry.Time,
		Entry:       &cpy,
	})
}

// Initiate validates the request, snapshots the sequence and creates an
// execution. Emergencies and sequences without approval start running
// immediately; the rest wait in pending.
func (e *Engine) Initiate(ctx context.Context, req InitiateRequest) (*Execution, error) {
	if strings.TrimSpace(req.SequenceID) == "" {
		return nil, fmt.Errorf("%w: sequence_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Initiator) == "" {
		return nil, fmt.Errorf("%w: initiator is required", ErrValidation)
	}
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	snap, err := e.catalog.Snapshot(ctx, req.SequenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	seq := snap.Sequence

	now := e.now().UTC()
	emergency := req.IsEmergency || seq.Type == sequence.TypeEmergencyStop
	exec := &Execution{
		ID:               uuid.NewString(),
		SequenceID:       seq.ID,
		SequenceName:     seq.Name,
		SequenceType:     seq.Type,
		Status:           StatusRunning,
		InitiatedBy:      req.Initiator,
		InitiatedAt:      now,
		Reason:           req.Reason,
		IsEmergency:      emergency,
		BypassInterlocks: emergency && req.BypassInterlocks,
		ApprovalStatus:   ApprovalNotRequired,
		UpdatedAt:        now,
	}
	if !emergency && approvalRequired(snap) {
		exec.Status = StatusPending
		exec.ApprovalStatus = ApprovalPending
	}

	r := &run{id: exec.ID, snap: snap, exec: exec, noted: make(map[string]bool)}

	msg := fmt.Sprintf("execution of %q initiated by %s", seq.Name, req.Initiator)
	if emergency {
		msg = fmt.Sprintf("emergency execution of %q initiated by %s", seq.Name, req.Initiator)
	}
	if err := e.note(ctx, r, audit.Record{
		Level:   audit.LevelInfo,
		Message: msg,
		Extra: map[string]any{
			"reason":       req.Reason,
			"is_emergency": emergency,
			"stages":       len(snap.Plan.Stages),
			"steps":        snap.Plan.StepCount(),
		},
	}); err != nil {
		e.audit.Close(exec.ID)
		return nil, err
	}
	var notes []audit.Record
	switch {
	case exec.BypassInterlocks:
		notes = append(notes, audit.Record{
			Level:   audit.LevelWarning,
			Message: "interlock bypass active: bypassable interlocks will not be evaluated",
			Extra:   map[string]any{"interlocks": bypassable(snap.Interlocks)},
		})
	case req.BypassInterlocks:
		notes = append(notes, audit.Record{
			Level:   audit.LevelWarning,
			Message: "interlock bypass ignored: only emergency executions may bypass",
		})
	}
	if exec.Status == StatusPending {
		notes = append(notes, audit.Record{Level: audit.LevelInfo, Message: "awaiting operator approval"})
	}
	for _, rec := range notes {
		if err := e.note(ctx, r, rec); err != nil {
			e.audit.Close(exec.ID)
			return nil, err
		}
	}

	if err := e.repo.Create(ctx, exec, snap); err != nil {
		// The stream already holds the initiation entries; say why it ends.
		_ = e.note(ctx, r, audit.Record{
			Level:   audit.LevelError,
			Message: "execution not created: " + err.Error(),
		})
		e.audit.Close(exec.ID)
		return nil, fmt.Errorf("creating execution: %w", err)
	}

	e.mu.Lock()
	e.runs[exec.ID] = r
	e.mu.Unlock()

	e.logger.Info("execution initiated",
		"execution_id", exec.ID,
		"sequence_id", seq.ID,
		"status", exec.Status,
		"emergency", emergency,
		"initiated_by", req.Initiator,
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	e.publishStatus(r)
	if r.exec.Status == StatusRunning {
		e.launch(r)
	}
	return r.exec.clone(), nil
}

func approvalRequired(snap *sequence.Snapshot) bool {
	if snap.Sequence.RequiresOperatorApproval {
		return true
	}
	return snap.Level != nil && snap.Level.RequiresConfirmation
}

func bypassable(ils []sequence.Interlock) []string {
	var ids []string
	for _, il := range ils {
		if il.BypassAllowed {
			ids = append(ids, il.ID)
		}
	}
	return ids
}

// Approve moves a pending execution to running.
func (e *Engine) Approve(ctx context.Context, id, approver string) (*Execution, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	r, err := e.activeRun(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status != StatusPending || r.exec.ApprovalStatus != ApprovalPending {
		return nil, fmt.Errorf("%w: cannot approve a %s execution", ErrState, r.exec.Status)
	}

	if err := e.note(ctx, r, audit.Record{
		Level:   audit.LevelInfo,
		Message: "approved by " + approver,
		Extra:   map[string]any{"approver": approver},
	}); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if err := e.commit(ctx, r, func(x *Execution) {
		x.ApprovalStatus = ApprovalApproved
		x.ApprovedBy = approver
		x.ApprovedAt = &now
		x.Status = StatusRunning
	}); err != nil {
		return nil, err
	}

	e.logger.Info("execution approved", "execution_id", id, "approver", approver)
	e.publishStatus(r)
	e.launch(r)
	return r.exec.clone(), nil
}

// Reject fails a pending execution without running it.
func (e *Engine) Reject(ctx context.Context, id, approver, reason string) (*Execution, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrValidation)
	}
	r, err := e.activeRun(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status != StatusPending || r.exec.ApprovalStatus != ApprovalPending {
		return nil, fmt.Errorf("%w: cannot reject a %s execution", ErrState, r.exec.Status)
	}

	msg := "rejected by " + approver
	if reason != "" {
		msg += ": " + reason
	}
	now := e.now().UTC()
	e.finish(ctx, r, StatusFailed, audit.Record{
		Level:   audit.LevelError,
		Message: msg,
		Extra:   map[string]any{"approver": approver, "reason": reason},
	}, msg, func(x *Execution) {
		x.ApprovalStatus = ApprovalRejected
		x.ApprovedBy = approver
		x.ApprovedAt = &now
	})
	return r.exec.clone(), nil
}

// Continue resumes a paused execution from the stage after the hold point.
func (e *Engine) Continue(ctx context.Context, id, actor string) (*Execution, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	r, err := e.activeRun(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborting {
		return nil, fmt.Errorf("%w: execution %s is aborting", ErrState, id)
	}
	switch r.exec.Status {
	case StatusPaused:
	case StatusPending:
		return nil, fmt.Errorf("%w: execution %s", ErrApprovalRequired, id)
	default:
		return nil, fmt.Errorf("%w: cannot continue a %s execution", ErrState, r.exec.Status)
	}

	if err := e.note(ctx, r, audit.Record{
		Level:   audit.LevelInfo,
		Message: "continued by " + actor,
		Extra:   map[string]any{"actor": actor, "next_stage": r.next},
	}); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, r, func(x *Execution) { x.Status = StatusRunning }); err != nil {
		return nil, err
	}

	e.logger.Info("execution continued", "execution_id", id, "actor", actor, "next_stage", r.next)
	e.publishStatus(r)
	e.launch(r)
	return r.exec.clone(), nil
}

// Abort stops a running or paused execution. In-flight steps are
// cancelled and waited for, so nothing is logged after the abort entry.
func (e *Engine) Abort(ctx context.Context, id, actor, reason string) (*Execution, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	r, err := e.activeRun(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.aborting {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: execution %s is already aborting", ErrState, id)
	}
	if s := r.exec.Status; s != StatusRunning && s != StatusPaused {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot abort a %s execution", ErrState, s)
	}
	r.aborting = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	// Stop whichever stage loop is current when the lock is retaken.
	for {
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		r.mu.Lock()
		if r.done == done {
			break
		}
		cancel, done = r.cancel, r.done
		r.mu.Unlock()
	}
	defer r.mu.Unlock()
	msg := "aborted by " + actor
	if reason != "" {
		msg += ": " + reason
	}
	e.finish(ctx, r, StatusAborted, audit.Record{
		Level:   audit.LevelError,
		Message: msg,
		Extra:   map[string]any{"actor": actor, "reason": reason},
	}, msg, nil)
	return r.exec.clone(), nil
}

// Get returns an execution, live or stored.
func (e *Engine) Get(ctx context.Context, id string) (*Execution, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.exec.clone(), nil
	}
	return e.repo.Get(ctx, id)
}

// ListActive returns the non-terminal executions held in memory, oldest first.
func (e *Engine) ListActive() []Execution {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	out := make([]Execution, 0, len(runs))
	for _, r := range runs {
		r.mu.Lock()
		out = append(out, *r.exec.clone())
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.Before(out[j].InitiatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// List returns stored executions matching filter.
func (e *Engine) List(ctx context.Context, filter Filter) ([]Execution, error) {
	return e.repo.List(ctx, filter)
}

// Logs returns the audit entries of an execution.
func (e *Engine) Logs(ctx context.Context, id string, filter audit.Filter) ([]audit.Entry, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.audit.Entries(ctx, id, filter)
}

// Snapshot returns the frozen configuration an execution runs against.
func (e *Engine) Snapshot(ctx context.Context, id string) (*sequence.Snapshot, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		return r.snap, nil
	}
	return e.repo.Snapshot(ctx, id)
}

// Recover reloads non-terminal executions after a restart. Pending
// executions wait for approval again. Running and paused executions lost
// their step state with the process and are failed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	execs, err := e.repo.List(ctx, Filter{Statuses: ActiveStatuses(), Limit: maxListLimit})
	if err != nil {
		return 0, fmt.Errorf("listing active executions: %w", err)
	}

	recovered := 0
	for i := range execs {
		exec := execs[i].clone()

		e.mu.Lock()
		_, live := e.runs[exec.ID]
		e.mu.Unlock()
		if live {
			continue
		}

		snap, err := e.repo.Snapshot(ctx, exec.ID)
		r := &run{id: exec.ID, snap: snap, exec: exec, noted: make(map[string]bool)}
		if err != nil {
			e.logger.Error("loading execution snapshot", "execution_id", exec.ID, "error", err)
			r.mu.Lock()
			msg := "interrupted by engine restart: snapshot unreadable"
			e.finish(ctx, r, StatusFailed, audit.Record{Level: audit.LevelError, Message: msg}, msg, nil)
			r.mu.Unlock()
			continue
		}

		if exec.Status == StatusPending {
			e.mu.Lock()
			e.runs[exec.ID] = r
			e.mu.Unlock()
			_ = e.note(ctx, r, audit.Record{
				Level:   audit.LevelInfo,
				Message: "recovered after engine restart; awaiting operator approval",
			})
			recovered++
			continue
		}

		r.mu.Lock()
		msg := "interrupted by engine restart"
		e.finish(ctx, r, StatusFailed, audit.Record{
			Level:   audit.LevelError,
			Message: msg,
			Extra:   map[string]any{"previous_status": string(exec.Status)},
		}, msg, nil)
		r.mu.Unlock()
	}

	e.logger.Info("executions recovered", "pending", recovered, "examined", len(execs))
	return recovered, nil
}

// Close cancels every running loop and waits for them to stop or for ctx
// to end. Interrupted executions are failed by Recover on the next start.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()
	}

	stopped := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(stopped)
	}()

	defer e.events.closeAll()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for executions to stop: %w", ctx.Err())
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// activeRun returns the live run for id. A stored terminal execution
// yields ErrState, an unknown one ErrExecutionNotFound.
func (e *Engine) activeRun(ctx context.Context, id string) (*run, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		return r, nil
	}
	exec, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: execution %s is %s", ErrState, id, exec.Status)
}

// launch starts the stage loop. r.mu must be held.
func (e *Engine) launch(r *run) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	if r.started.IsZero() {
		r.started = e.now()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer cancel()
		e.runStages(ctx, r)
	}()
}

// note appends to the execution log. Failures are logged and returned.
func (e *Engine) note(ctx context.Context, r *run, rec audit.Record) error {
	if _, err := e.audit.Log(context.WithoutCancel(ctx), r.id, rec); err != nil {
		e.logger.Error("writing execution log", "execution_id", r.id, "message", rec.Message, "error", err)
		return fmt.Errorf("writing execution log: %w", err)
	}
	return nil
}

// noteOnce logs rec the first time key is seen for the run.
func (e *Engine) noteOnce(ctx context.Context, r *run, key string, rec audit.Record) {
	r.mu.Lock()
	seen := r.noted[key]
	r.noted[key] = true
	r.mu.Unlock()
	if !seen {
		_ = e.note(ctx, r, rec)
	}
}

// commit persists a modified copy of the execution and swaps it in.
// r.mu must be held.
func (e *Engine) commit(ctx context.Context, r *run, mutate func(*Execution)) error {
	next := r.exec.clone()
	mutate(next)
	next.UpdatedAt = e.now().UTC()
	if err := e.repo.Update(context.WithoutCancel(ctx), next); err != nil {
		e.logger.Error("saving execution", "execution_id", r.id, "error", err)
		return fmt.Errorf("saving execution %s: %w", r.id, err)
	}
	r.exec = next
	return nil
}

// finish writes the final log entry, moves the execution to a terminal
// status and seals its log. r.mu must be held.
func (e *Engine) finish(ctx context.Context, r *run, status Status, rec audit.Record, failure string, mutate func(*Execution)) {
	_ = e.note(ctx, r, rec)

	now := e.now().UTC()
	next := r.exec.clone()
	if mutate != nil {
		mutate(next)
	}
	next.Status = status
	next.CompletedAt = &now
	next.UpdatedAt = now
	if status != StatusCompleted {
		next.FailureReason = failure
	}
	if err := e.repo.Update(context.WithoutCancel(ctx), next); err != nil {
		e.logger.Error("saving terminal execution", "execution_id", r.id, "status", status, "error", err)
	}
	r.exec = next
	e.audit.Close(r.id)

	e.mu.Lock()
	delete(e.runs, r.id)
	e.mu.Unlock()

	started := r.started
	if started.IsZero() {
		started = next.InitiatedAt
	}
	elapsed := now.Sub(started)
	e.metrics.WriteExecutionOutcome(next.SequenceID, string(next.SequenceType), string(status), next.IsEmergency, elapsed)

	e.logger.Info("execution finished",
		"execution_id", r.id,
		"sequence_id", next.SequenceID,
		"status", status,
		"duration", elapsed,
	)
	e.publishStatus(r)
}

// publishStatus emits the current execution. r.mu must be held.
func (e *Engine) publishStatus(r *run) {
	e.events.publish(Event{
		Type:        EventStatusChanged,
		ExecutionID: r.id,
		Time:        r.exec.UpdatedAt,
		Execution:   r.exec.clone(),
	})
}
