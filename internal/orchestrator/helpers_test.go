package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/condition"
	"github.com/nerrad567/gray-logic-esd/internal/dispatch"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
	_ "github.com/nerrad567/gray-logic-esd/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// tagStore is a settable TagReader.
type tagStore struct {
	mu     sync.Mutex
	values map[string]float64
}

func newTagStore() *tagStore {
	return &tagStore{values: make(map[string]float64)}
}

func (s *tagStore) set(tag string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[tag] = v
}

func (s *tagStore) TagValue(_ context.Context, tag string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[tag]
	if !ok {
		return 0, fmt.Errorf("tag %s: no value", tag)
	}
	return v, nil
}

// fakeDispatcher records dispatch starts and runs an optional hook per step.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []string
	starts  map[string]time.Time
	started chan string
	hook    func(ctx context.Context, st sequence.Step) error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{starts: make(map[string]time.Time), started: make(chan string, 64)}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, _ string, st sequence.Step) (dispatch.Result, error) {
	d.mu.Lock()
	d.calls = append(d.calls, st.ID)
	d.starts[st.ID] = time.Now()
	hook := d.hook
	d.mu.Unlock()

	select {
	case d.started <- st.ID:
	default:
	}

	var err error
	if hook != nil {
		err = hook(ctx, st)
	}
	return dispatch.Result{StepID: st.ID, Commands: []dispatch.CommandResult{{Attempts: 1}}}, err
}

func (d *fakeDispatcher) setHook(fn func(ctx context.Context, st sequence.Step) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = fn
}

func (d *fakeDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// mockMetrics counts outcomes.
type mockMetrics struct {
	mu         sync.Mutex
	steps      map[string]int
	executions []string
}

func (m *mockMetrics) WriteStepOutcome(_ string, _ int, _ string, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps == nil {
		m.steps = make(map[string]int)
	}
	m.steps[outcome]++
}

func (m *mockMetrics) WriteExecutionOutcome(_, _, status string, _ bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, status)
}

type testEnv struct {
	engine     *Engine
	catalog    *sequence.Catalog
	tags       *tagStore
	dispatcher *fakeDispatcher
	writer     *audit.Writer
	repo       *SQLiteRepository
	metrics    *mockMetrics
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	env := &testEnv{
		catalog:    sequence.NewCatalog(sequence.NewSQLiteRepository(db.DB)),
		tags:       newTagStore(),
		dispatcher: newFakeDispatcher(),
		writer:     audit.NewWriter(audit.NewSQLiteRepository(db.DB)),
		repo:       NewSQLiteRepository(db.DB),
		metrics:    &mockMetrics{},
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.PermissiveWait == 0 {
		opts.PermissiveWait = time.Second
	}

	eng, err := New(Deps{
		Catalog:    env.catalog,
		Evaluator:  condition.New(env.tags),
		Dispatcher: env.dispatcher,
		Audit:      env.writer,
		Repository: env.repo,
		Metrics:    env.metrics,
	}, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.writer.OnAppend(eng.PublishEntry)
	env.engine = eng

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Close(ctx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return env
}

func (env *testEnv) addSequence(t *testing.T, seq *sequence.Sequence) {
	t.Helper()
	if err := env.catalog.CreateSequence(context.Background(), seq); err != nil {
		t.Fatalf("CreateSequence(%s) error = %v", seq.ID, err)
	}
}

func (env *testEnv) addInterlock(t *testing.T, il *sequence.Interlock) {
	t.Helper()
	if err := env.catalog.SaveInterlock(context.Background(), il); err != nil {
		t.Fatalf("SaveInterlock(%s) error = %v", il.ID, err)
	}
}

func (env *testEnv) initiate(t *testing.T, req InitiateRequest) *Execution {
	t.Helper()
	if req.Initiator == "" {
		req.Initiator = "operator1"
	}
	exec, err := env.engine.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Initiate(%s) error = %v", req.SequenceID, err)
	}
	return exec
}

// waitStatus polls until the execution reaches want.
func (env *testEnv) waitStatus(t *testing.T, id string, want Status) *Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last *Execution
	for time.Now().Before(deadline) {
		exec, err := env.engine.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if exec.Status == want {
			return exec
		}
		last = exec
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s status = %s, want %s (failure: %q)", id, last.Status, want, last.FailureReason)
	return nil
}

func (env *testEnv) logs(t *testing.T, id string) []audit.Entry {
	t.Helper()
	entries, err := env.engine.Logs(context.Background(), id, audit.Filter{Limit: 5000})
	if err != nil {
		t.Fatalf("Logs(%s) error = %v", id, err)
	}
	return entries
}

// waitDispatch waits for the dispatcher to start step id.
func (env *testEnv) waitDispatch(t *testing.T, id string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-env.dispatcher.started:
			if got == id {
				return
			}
		case <-timeout:
			t.Fatalf("step %s never dispatched", id)
		}
	}
}

func successSteps(entries []audit.Entry) []string {
	var ids []string
	for _, e := range entries {
		if e.Level == audit.LevelSuccess {
			ids = append(ids, e.StepID)
		}
	}
	return ids
}

func findEntry(entries []audit.Entry, level audit.Level, substr string) (audit.Entry, bool) {
	for _, e := range entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return audit.Entry{}, false
}

func valveStep(seqID string, number, group int) sequence.Step {
	return sequence.Step{
		ID:            fmt.Sprintf("%s-s%d", seqID, number),
		StepNumber:    number,
		Name:          fmt.Sprintf("Close XV-%d", 100+number),
		ActionType:    sequence.ActionCloseValve,
		TargetAsset:   fmt.Sprintf("XV-%d", 100+number),
		Params:        &sequence.CloseValveParams{},
		ParallelGroup: group,
	}
}

// valveSequence returns an active shutdown sequence of n sequential valve closures.
func valveSequence(id string, n int) *sequence.Sequence {
	seq := &sequence.Sequence{
		ID:     id,
		SiteID: "platform-a",
		Name:   "Shutdown " + id,
		Type:   sequence.TypeShutdown,
		Active: true,
	}
	for i := 1; i <= n; i++ {
		seq.Steps = append(seq.Steps, valveStep(id, i, 0))
	}
	return seq
}

func stepID(seqID string, number int) string {
	return fmt.Sprintf("%s-s%d", seqID, number)
}

func highPressureInterlock(id string, action sequence.TriggerAction) *sequence.Interlock {
	return &sequence.Interlock{
		ID:            id,
		SiteID:        "platform-a",
		Name:          "High pressure " + id,
		Type:          sequence.InterlockSafety,
		TriggerAction: action,
		Priority:      10,
		Active:        true,
		Conditions: []sequence.InterlockCondition{
			{TagID: "PT-101", Operator: sequence.OpGreater, Setpoint: sequence.Float(150)},
		},
	}
}
