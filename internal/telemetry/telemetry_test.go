package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/tsdb"
)

type historyWrite struct {
	system, tag string
	value       float64
	at          time.Time
}

type mockHistory struct {
	mu     sync.Mutex
	writes []historyWrite
}

func (m *mockHistory) WriteTagValue(system, tag string, value float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, historyWrite{system, tag, value, at})
}

type mockSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
	err     error
}

func (m *mockSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.topic = topic
	m.handler = handler
	return m.err
}

type mockQuerier struct {
	query string
	value float64
	err   error
}

func (m *mockQuerier) InstantValue(_ context.Context, query string) (float64, time.Time, error) {
	m.query = query
	return m.value, time.Now(), m.err
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(maxAge time.Duration) (*Cache, *time.Time) {
	now := base
	c := NewCache(maxAge)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    float64
		wantErr error
	}{
		{"number", "esd/tag/scada/PT-101", `{"tag":"PT-101","value":42.5,"quality":"good"}`, 42.5, nil},
		{"true is one", "esd/tag/scada/XV-1.closed", `{"value":true}`, 1, nil},
		{"false is zero", "esd/tag/scada/XV-1.closed", `{"value":false}`, 0, nil},
		{"string value", "esd/tag/scada/PT-101", `{"value":"high"}`, 0, ErrInvalidPayload},
		{"null value", "esd/tag/scada/PT-101", `{"value":null}`, 0, ErrInvalidPayload},
		{"tag mismatch", "esd/tag/scada/PT-101", `{"tag":"PT-102","value":1}`, 0, ErrInvalidPayload},
		{"bad topic", "esd/ack/scada/PT-101", `{"value":1}`, 0, ErrInvalidPayload},
		{"bad json", "esd/tag/scada/PT-101", `{`, 0, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(time.Minute)
			err := c.HandleMessage(tt.topic, []byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("HandleMessage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
			_, tag, _ := mqtt.ParseTagTopic(tt.topic)
			got, err := c.TagValue(context.Background(), tag)
			if err != nil {
				t.Fatalf("TagValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TagValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheQualityAndStaleness(t *testing.T) {
	c, now := newTestCache(30 * time.Second)
	ctx := context.Background()

	if _, err := c.TagValue(ctx, "PT-101"); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("missing tag error = %v, want ErrTagNotFound", err)
	}

	c.Update(Reading{TagID: "PT-101", System: "scada", Value: 10, Quality: QualityGood})
	if v, err := c.TagValue(ctx, "PT-101"); err != nil || v != 10 {
		t.Errorf("TagValue() = %v, %v", v, err)
	}

	*now = now.Add(31 * time.Second)
	if _, err := c.TagValue(ctx, "PT-101"); !errors.Is(err, ErrStale) {
		t.Errorf("stale error = %v, want ErrStale", err)
	}

	c.Update(Reading{TagID: "PT-101", System: "scada", Value: 11, Quality: QualityBad})
	if _, err := c.TagValue(ctx, "PT-101"); !errors.Is(err, ErrBadQuality) {
		t.Errorf("bad quality error = %v, want ErrBadQuality", err)
	}
}

func TestCacheDropsOutOfOrderReadings(t *testing.T) {
	c, _ := newTestCache(0)
	c.Update(Reading{TagID: "LT-7", Value: 5, Quality: QualityGood, Timestamp: base})
	c.Update(Reading{TagID: "LT-7", Value: 4, Quality: QualityGood, Timestamp: base.Add(-time.Second)})

	v, err := c.TagValue(context.Background(), "LT-7")
	if err != nil || v != 5 {
		t.Errorf("TagValue() = %v, %v; want 5", v, err)
	}
}

func TestCacheWritesGoodReadingsToHistory(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	h := &mockHistory{}
	c.SetHistory(h)

	if err := c.HandleMessage("esd/tag/scada/PT-101", []byte(`{"value":7,"timestamp":"2026-03-01T11:59:50Z"}`)); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleMessage("esd/tag/scada/PT-102", []byte(`{"value":8,"quality":"bad"}`)); err != nil {
		t.Fatal(err)
	}

	if len(h.writes) != 1 {
		t.Fatalf("history writes = %d, want 1", len(h.writes))
	}
	w := h.writes[0]
	if w.system != "scada" || w.tag != "PT-101" || w.value != 7 || !w.at.Equal(base.Add(-10*time.Second)) {
		t.Errorf("history write = %+v", w)
	}
}

func TestCacheSubscribe(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	sub := &mockSubscriber{}
	if err := c.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.topic != "esd/tag/+/+" {
		t.Errorf("topic = %q", sub.topic)
	}
	if err := sub.handler("esd/tag/scada/FT-3", []byte(`{"value":3.5}`)); err != nil {
		t.Fatal(err)
	}
	if got := c.Readings(); len(got) != 1 || got[0].TagID != "FT-3" {
		t.Errorf("Readings() = %+v", got)
	}

	failing := &mockSubscriber{err: errors.New("not connected")}
	if err := c.Subscribe(failing); err == nil {
		t.Error("Subscribe() should surface broker errors")
	}
}

func TestTSDBSource(t *testing.T) {
	q := &mockQuerier{value: 99}
	s := NewTSDBSource(q, 1500*time.Millisecond)

	v, err := s.TagValue(context.Background(), "PT-101")
	if err != nil || v != 99 {
		t.Fatalf("TagValue() = %v, %v", v, err)
	}
	if want := `last_over_time(esd_tag_value{tag="PT-101"}[2s])`; q.query != want {
		t.Errorf("query = %s, want %s", q.query, want)
	}

	q.err = tsdb.ErrNoData
	if _, err := s.TagValue(context.Background(), "PT-101"); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("no data error = %v, want ErrTagNotFound", err)
	}

	q.err = fmt.Errorf("%w: boom", tsdb.ErrBadResponse)
	if _, err := s.TagValue(context.Background(), "PT-101"); !errors.Is(err, tsdb.ErrBadResponse) {
		t.Errorf("error = %v, want wrapped ErrBadResponse", err)
	}
}

func TestGatewayFallback(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache(30 * time.Second)
	q := &mockQuerier{value: 55}
	g := NewGateway(c, NewTSDBSource(q, 30*time.Second))

	// Miss: served from history.
	if v, err := g.TagValue(ctx, "PT-101"); err != nil || v != 55 {
		t.Errorf("miss = %v, %v; want 55", v, err)
	}

	// Hit: cache wins.
	c.Update(Reading{TagID: "PT-101", Value: 12, Quality: QualityGood})
	if v, err := g.TagValue(ctx, "PT-101"); err != nil || v != 12 {
		t.Errorf("hit = %v, %v; want 12", v, err)
	}

	// Stale: history again.
	*now = now.Add(time.Minute)
	if v, err := g.TagValue(ctx, "PT-101"); err != nil || v != 55 {
		t.Errorf("stale = %v, %v; want 55", v, err)
	}

	// Bad quality is never masked.
	c.Update(Reading{TagID: "PT-101", Value: 12, Quality: QualityBad})
	if _, err := g.TagValue(ctx, "PT-101"); !errors.Is(err, ErrBadQuality) {
		t.Errorf("bad quality = %v, want ErrBadQuality", err)
	}

	// Both sources empty.
	q.err = tsdb.ErrNoData
	_, err := g.TagValue(ctx, "LT-9")
	if !errors.Is(err, ErrTagNotFound) || !strings.Contains(err.Error(), "history") {
		t.Errorf("double miss = %v", err)
	}
}

func TestGatewayWithoutFallback(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	g := NewGateway(c, nil)
	if _, err := g.TagValue(context.Background(), "PT-101"); !errors.Is(err, ErrTagNotFound) {
		t.Errorf("error = %v, want ErrTagNotFound", err)
	}
}
