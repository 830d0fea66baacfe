package audit

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
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

type stream struct {
	mu     sync.Mutex
	loaded bool
	seq    int64
	last   time.Time
	closed bool
}

// Writer appends entries to per-execution streams.
type Writer struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	mu       sync.Mutex
	streams  map[string]*stream
	onAppend func(Entry)
}

// NewWriter returns a writer over repo.
func NewWriter(repo Repository) *Writer {
	return &Writer{
		repo:    repo,
		logger:  noopLogger{},
		now:     time.Now,
		streams: make(map[string]*stream),
	}
}

// SetLogger sets the logger.
func (w *Writer) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// OnAppend registers fn to receive each stored entry, in seq order per
// execution. fn runs under the stream lock and must not block or log to
// the same execution.
func (w *Writer) OnAppend(fn func(Entry)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onAppend = fn
}

func (w *Writer) stream(executionID string) *stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.streams[executionID]
	if !ok {
		s = &stream{}
		w.streams[executionID] = s
	}
	return s
}

// Log appends rec to the execution's stream and returns the stored entry.
// The entry is durable when Log returns nil.
func (w *Writer) Log(ctx context.Context, executionID string, rec Record) (Entry, error) {
	if executionID == "" || rec.Message == "" || !rec.Level.Valid() {
		return Entry{}, fmt.Errorf("%w: execution %q level %q", ErrInvalidEntry, executionID, rec.Level)
	}

	s := w.stream(executionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Entry{}, fmt.Errorf("%w: %s", ErrStreamClosed, executionID)
	}
	if !s.loaded {
		seq, last, err := w.repo.LastSeq(ctx, executionID)
		if err != nil {
			return Entry{}, fmt.Errorf("resuming log stream %s: %w", executionID, err)
		}
		s.seq, s.last, s.loaded = seq, last, true
	}

	t := w.now().UTC()
	if t.Before(s.last) {
		t = s.last
	}

	e := Entry{
		ExecutionID: executionID,
		StepID:      rec.StepID,
		Seq:         s.seq + 1,
		Time:        t,
		Level:       rec.Level,
		Message:     rec.Message,
		Measured:    copyFloat(rec.Measured),
		Expected:    copyFloat(rec.Expected),
		Extra:       maps.Clone(rec.Extra),
	}
	if err := w.repo.Append(ctx, &e); err != nil {
		return Entry{}, fmt.Errorf("appending log entry %d for %s: %w", e.Seq, executionID, err)
	}
	s.seq = e.Seq
	s.last = t

	w.mu.Lock()
	fn := w.onAppend
	w.mu.Unlock()
	if fn != nil {
		fn(e)
	}
	return e, nil
}

// Close seals the execution's stream. It waits for an in-progress Log to
// finish. Closing twice is harmless.
func (w *Writer) Close(executionID string) {
	s := w.stream(executionID)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	w.logger.Debug("execution log sealed", "execution_id", executionID)
}

// Closed reports whether the execution's stream is sealed.
func (w *Writer) Closed(executionID string) bool {
	w.mu.Lock()
	s, ok := w.streams[executionID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Entries lists stored entries of an execution.
func (w *Writer) Entries(ctx context.Context, executionID string, filter Filter) ([]Entry, error) {
	return w.repo.List(ctx, executionID, filter)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
