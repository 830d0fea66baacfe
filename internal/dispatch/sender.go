package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/mqtt"
)

// AckStatus is the DCS verdict on a command.
type AckStatus string

const (
	StatusAck  AckStatus = "ack"
	StatusNack AckStatus = "nack"
)

// Ack is the DCS answer to one command.
type Ack struct {
	CommandID string    `json:"command_id"`
	Status    AckStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// Sender delivers one command and waits for its acknowledgement. A returned
// error means no verdict was obtained (transport failure, ErrAckTimeout or
// context cancellation); a nack is a valid Ack.
type Sender interface {
	Send(ctx context.Context, cmd Command, attempt int) (Ack, error)
}

// MQTTClient is the broker surface MQTTSender needs. *mqtt.Client satisfies it.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// wireCommand is the payload on esd/command/{system}/{point}.
type wireCommand struct {
	Command
	Attempt int       `json:"attempt"`
	SentAt  time.Time `json:"sent_at"`
}

// MQTTSender publishes commands to the DCS bridge and correlates acks by
// command ID.
type MQTTSender struct {
	client     MQTTClient
	system     string
	ackTimeout time.Duration
	topics     mqtt.Topics
	logger     Logger

	mu      sync.Mutex
	pending map[string]chan Ack
}

// NewMQTTSender returns a sender for the named DCS system. Call Start
// before Send.
func NewMQTTSender(client MQTTClient, system string, ackTimeout time.Duration) *MQTTSender {
	return &MQTTSender{
		client:     client,
		system:     system,
		ackTimeout: ackTimeout,
		logger:     noopLogger{},
		pending:    make(map[string]chan Ack),
	}
}

// SetLogger sets the logger.
func (s *MQTTSender) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start subscribes to the system's ack topics.
func (s *MQTTSender) Start() error {
	topic := s.topics.AllDCSAcks(s.system)
	if err := s.client.Subscribe(topic, 1, s.HandleAck); err != nil {
		return fmt.Errorf("subscribing to DCS acks: %w", err)
	}
	s.logger.Info("listening for DCS acks", "topic", topic)
	return nil
}

// HandleAck routes an ack message to the waiting Send. Acks for commands
// nobody waits for (late, duplicate) are dropped.
func (s *MQTTSender) HandleAck(topic string, payload []byte) error {
	_, commandID, ok := mqtt.ParseAckTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected ack topic %q", topic)
	}

	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decoding ack for %s: %w", commandID, err)
	}
	if ack.CommandID == "" {
		ack.CommandID = commandID
	}
	if ack.CommandID != commandID {
		return fmt.Errorf("ack for %s published on topic of %s", ack.CommandID, commandID)
	}
	if ack.Status != StatusAck && ack.Status != StatusNack {
		return fmt.Errorf("ack for %s has status %q", commandID, ack.Status)
	}

	s.mu.Lock()
	ch, waiting := s.pending[commandID]
	s.mu.Unlock()
	if !waiting {
		s.logger.Debug("ack for unknown command dropped", "command_id", commandID)
		return nil
	}

	select {
	case ch <- ack:
	default:
	}
	return nil
}

// Send publishes cmd and blocks until its ack, the ack timeout or ctx.
func (s *MQTTSender) Send(ctx context.Context, cmd Command, attempt int) (Ack, error) {
	ch := make(chan Ack, 1)
	s.mu.Lock()
	s.pending[cmd.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, cmd.ID)
		s.mu.Unlock()
	}()

	topic := s.topics.DCSCommand(s.system, cmd.TargetPoint)
	msg := wireCommand{Command: cmd, Attempt: attempt, SentAt: time.Now().UTC()}
	if err := s.client.PublishJSON(topic, msg, false); err != nil {
		return Ack{}, fmt.Errorf("publishing %s to %s: %w", cmd.Type, topic, err)
	}

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return Ack{}, fmt.Errorf("%w: %s after %s", ErrAckTimeout, cmd.ID, s.ackTimeout)
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// Pending returns the number of commands awaiting an ack.
func (s *MQTTSender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
