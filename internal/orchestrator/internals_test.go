package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAssetLocksAllOrNothing(t *testing.T) {
	l := newAssetLocks()
	ctx := context.Background()

	if err := l.acquire(ctx, "exec-1", []string{"XV-101", "XV-102"}, nil); err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	// Re-entrant for the holder.
	if err := l.acquire(ctx, "exec-1", []string{"XV-101"}, nil); err != nil {
		t.Fatalf("re-acquire error = %v", err)
	}

	var waitedOn string
	acquired := make(chan error, 1)
	go func() {
		acquired <- l.acquire(ctx, "exec-2", []string{"XV-102", "XV-103"}, func(asset, holder string) {
			waitedOn = asset + "@" + holder
		})
	}()

	select {
	case <-acquired:
		t.Fatal("exec-2 acquired a held asset")
	case <-time.After(30 * time.Millisecond):
	}
	if h := l.holder("XV-103"); h != "" {
		t.Errorf("XV-103 held by %q while exec-2 waits", h)
	}

	l.release("exec-1", []string{"XV-101", "XV-102"})
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("acquire() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("exec-2 not woken by release")
	}
	if waitedOn != "XV-102@exec-1" {
		t.Errorf("onWait = %q", waitedOn)
	}
	if l.holder("XV-103") != "exec-2" || l.holder("XV-101") != "" {
		t.Errorf("holders after handover: XV-101=%q XV-103=%q", l.holder("XV-101"), l.holder("XV-103"))
	}
}

func TestAssetLocksCancel(t *testing.T) {
	l := newAssetLocks()
	if err := l.acquire(context.Background(), "exec-1", []string{"P-201"}, nil); err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.acquire(ctx, "exec-2", []string{"P-201"}, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acquire() error = %v, want deadline exceeded", err)
	}
}

func TestEventBus(t *testing.T) {
	bus := newEventBus(noopLogger{})
	a, unsubA := bus.subscribe()
	b, unsubB := bus.subscribe()

	bus.publish(Event{Type: EventLog, ExecutionID: "exec-1"})
	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.ExecutionID != "exec-1" {
				t.Errorf("event = %+v", ev)
			}
		default:
			t.Fatal("event not delivered")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Error("channel open after unsubscribe")
	}

	// A full subscriber drops instead of blocking.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.publish(Event{Type: EventLog})
	}
	if len(b) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(b), subscriberBuffer)
	}

	bus.closeAll()
	unsubB()
}

type mockPublisher struct {
	mu    sync.Mutex
	sent  []string
	keeps []bool
}

func (m *mockPublisher) PublishJSON(topic string, _ any, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, topic)
	m.keeps = append(m.keeps, retained)
	return nil
}

func TestForward(t *testing.T) {
	events := make(chan Event, 3)
	events <- Event{Type: EventStatusChanged, ExecutionID: "exec-1", Execution: &Execution{ID: "exec-1", Status: StatusRunning}}
	events <- Event{Type: EventLog, ExecutionID: "exec-1"}
	events <- Event{Type: EventInterlockTripped, ExecutionID: "exec-1"}
	close(events)

	pub := &mockPublisher{}
	Forward(context.Background(), events, pub, nil)

	want := []string{
		"esd/core/execution/exec-1/status",
		"esd/core/event/execution.log",
		"esd/core/event/interlock.tripped",
	}
	if len(pub.sent) != len(want) {
		t.Fatalf("published %v", pub.sent)
	}
	for i := range want {
		if pub.sent[i] != want[i] {
			t.Errorf("topic %d = %s, want %s", i, pub.sent[i], want[i])
		}
	}
	if !pub.keeps[0] || pub.keeps[1] || pub.keeps[2] {
		t.Errorf("retained flags = %v", pub.keeps)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range ActiveStatuses() {
		if s.Terminal() {
			t.Errorf("%s is terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusAborted} {
		if !s.Terminal() {
			t.Errorf("%s is not terminal", s)
		}
	}
}
