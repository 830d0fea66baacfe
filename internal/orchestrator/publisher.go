package orchestrator

import (
	"context"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/mqtt"
)

// Publisher sends JSON to the broker. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Forward relays events to MQTT until ctx ends or the channel closes.
// Status changes go to the retained per-execution topic so a late
// subscriber sees the current state; everything else goes to the core
// event topic for its type.
func Forward(ctx context.Context, events <-chan Event, pub Publisher, logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	var topics mqtt.Topics
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			topic := topics.CoreEvent(string(ev.Type))
			var payload any = ev
			retained := false
			if ev.Type == EventStatusChanged && ev.Execution != nil {
				topic = topics.ExecutionStatus(ev.ExecutionID)
				payload = ev.Execution
				retained = true
			}
			if err := pub.PublishJSON(topic, payload, retained); err != nil {
				logger.Warn("publishing engine event", "topic", topic, "type", ev.Type, "error", err)
			}
		}
	}
}
