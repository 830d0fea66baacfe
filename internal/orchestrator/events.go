package orchestrator

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/condition"
)

// EventType names an engine event. The values double as websocket
// channels and MQTT event topic leaves.
type EventType string

const (
	EventStatusChanged    EventType = "execution.status_changed"
	EventLog              EventType = "execution.log"
	EventInterlockTripped EventType = "interlock.tripped"
)

// Event is published on every status change, every audit entry and every
// tripped interlock.
type Event struct {
	Type        EventType    `json:"type"`
	ExecutionID string       `json:"execution_id"`
	Time        time.Time    `json:"time"`
	Execution   *Execution   `json:"execution,omitempty"`
	Entry       *audit.Entry `json:"entry,omitempty"`

	Interlock        *condition.InterlockResult `json:"interlock,omitempty"`
	LinkedSequenceID string                     `json:"linked_sequence_id,omitempty"`
	Blocking         bool                       `json:"blocking,omitempty"`
}

const subscriberBuffer = 256

// eventBus fans events out to subscribers without blocking the engine.
// A subscriber that falls behind loses events rather than stalling steps.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger Logger
}

func newEventBus(logger Logger) *eventBus {
	return &eventBus{subs: make(map[int]chan Event), logger: logger}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event subscriber lagging, event dropped", "subscriber", id, "type", ev.Type)
		}
	}
}

func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
