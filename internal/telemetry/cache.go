package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/mqtt"
)

// Quality flags carried by tag messages.
const (
	QualityGood      = "good"
	QualityBad       = "bad"
	QualityUncertain = "uncertain"
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

// HistoryWriter stores accepted readings. *tsdb.Client satisfies it.
type HistoryWriter interface {
	WriteTagValue(system, tag string, value float64, at time.Time)
}

// Subscriber is the MQTT surface the cache needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Reading is the last value seen for one tag.
type Reading struct {
	TagID     string    `json:"tag"`
	System    string    `json:"system"`
	Value     float64   `json:"value"`
	Quality   string    `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// tagMessage is the payload on esd/tag/{system}/{tag}. Value is a number or
// a boolean.
type tagMessage struct {
	Tag       string          `json:"tag"`
	Value     json.RawMessage `json:"value"`
	Quality   string          `json:"quality"`
	Timestamp *time.Time      `json:"timestamp"`
}

// Cache holds the latest reading per tag.
type Cache struct {
	mu       sync.RWMutex
	readings map[string]Reading
	maxAge   time.Duration
	history  HistoryWriter
	logger   Logger
	now      func() time.Time
}

// NewCache returns an empty cache. Readings older than maxAge are stale;
// maxAge <= 0 disables the staleness check.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		readings: make(map[string]Reading),
		maxAge:   maxAge,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger.
func (c *Cache) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetHistory sets where accepted readings are recorded.
func (c *Cache) SetHistory(h HistoryWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = h
}

// Subscribe starts feeding the cache from every tag topic.
func (c *Cache) Subscribe(sub Subscriber) error {
	topic := mqtt.Topics{}.AllTagValues()
	if err := sub.Subscribe(topic, 1, c.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to tag values: %w", err)
	}
	c.logger.Info("subscribed to tag values", "topic", topic)
	return nil
}

// HandleMessage decodes one tag message and stores it. It has the
// mqtt.MessageHandler signature.
func (c *Cache) HandleMessage(topic string, payload []byte) error {
	system, tag, ok := mqtt.ParseTagTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidPayload, topic)
	}

	var msg tagMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.Tag != "" && msg.Tag != tag {
		return fmt.Errorf("%w: payload tag %q on topic for %q", ErrInvalidPayload, msg.Tag, tag)
	}

	value, err := decodeValue(msg.Value)
	if err != nil {
		return err
	}

	r := Reading{
		TagID:   tag,
		System:  system,
		Value:   value,
		Quality: msg.Quality,
	}
	if r.Quality == "" {
		r.Quality = QualityGood
	}
	if msg.Timestamp != nil {
		r.Timestamp = msg.Timestamp.UTC()
	}
	c.Update(r)
	return nil
}

func decodeValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing value", ErrInvalidPayload)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("%w: value %s is not a number or boolean", ErrInvalidPayload, raw)
	}
	return f, nil
}

// Update stores a reading. A zero timestamp means now. Good readings are
// forwarded to the history writer.
func (c *Cache) Update(r Reading) {
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now().UTC()
	}

	c.mu.Lock()
	prev, seen := c.readings[r.TagID]
	if seen && r.Timestamp.Before(prev.Timestamp) {
		c.mu.Unlock()
		c.logger.Debug("out of order tag reading dropped", "tag", r.TagID, "timestamp", r.Timestamp)
		return
	}
	c.readings[r.TagID] = r
	history := c.history
	c.mu.Unlock()

	if r.Quality != QualityGood {
		c.logger.Warn("tag reading with bad quality", "tag", r.TagID, "quality", r.Quality)
		return
	}
	if history != nil {
		history.WriteTagValue(r.System, r.TagID, r.Value, r.Timestamp)
	}
}

// TagValue returns the cached value of tagID.
func (c *Cache) TagValue(_ context.Context, tagID string) (float64, error) {
	c.mu.RLock()
	r, ok := c.readings[tagID]
	c.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTagNotFound, tagID)
	}
	if r.Quality != QualityGood {
		return 0, fmt.Errorf("%w: %s is %s", ErrBadQuality, tagID, r.Quality)
	}
	if c.maxAge > 0 {
		if age := c.now().Sub(r.Timestamp); age > c.maxAge {
			return 0, fmt.Errorf("%w: %s last updated %s ago", ErrStale, tagID, age.Truncate(time.Millisecond))
		}
	}
	return r.Value, nil
}

// Readings returns every cached reading sorted by tag.
func (c *Cache) Readings() []Reading {
	c.mu.RLock()
	out := make([]Reading, 0, len(c.readings))
	for _, r := range c.readings {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}
