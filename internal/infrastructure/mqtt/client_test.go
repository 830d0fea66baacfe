package mqtt

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
)

func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to a local broker, skipping when none is running.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()

	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DCSCommand", topics.DCSCommand("dcs", "XV-101"), "esd/command/dcs/XV-101"},
		{"DCSAck", topics.DCSAck("dcs", "cmd-1"), "esd/ack/dcs/cmd-1"},
		{"AllDCSAcks", topics.AllDCSAcks("dcs"), "esd/ack/dcs/+"},
		{"TagValue", topics.TagValue("scada", "PT-101"), "esd/tag/scada/PT-101"},
		{"AllTagValues", topics.AllTagValues(), "esd/tag/+/+"},
		{"CoreStatus", topics.CoreStatus(), "esd/core/status"},
		{"ExecutionStatus", topics.ExecutionStatus("exec-1"), "esd/core/execution/exec-1/status"},
		{"CoreEvent", topics.CoreEvent("interlock.tripped"), "esd/core/event/interlock.tripped"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseTopics(t *testing.T) {
	system, tag, ok := ParseTagTopic("esd/tag/scada/PT-101")
	if !ok || system != "scada" || tag != "PT-101" {
		t.Errorf("ParseTagTopic() = %q, %q, %v", system, tag, ok)
	}
	system, id, ok := ParseAckTopic("esd/ack/dcs/cmd-9")
	if !ok || system != "dcs" || id != "cmd-9" {
		t.Errorf("ParseAckTopic() = %q, %q, %v", system, id, ok)
	}

	for _, bad := range []string{"", "esd/tag/scada", "esd/ack/dcs/x", "other/tag/a/b", "esd/tag/a/b/c", "esd/tag//b"} {
		if _, _, ok := ParseTagTopic(bad); ok {
			t.Errorf("ParseTagTopic(%q) ok = true", bad)
		}
	}
}

func TestStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("esd-core", "offline", "graceful_shutdown"), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Status != "offline" || p.ClientID != "esd-core" || p.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", p.Timestamp, err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("esd-opts")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "core"
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "esd-opts" || opts.Username != "core" {
		t.Errorf("ClientID/Username = %q/%q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set")
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig("esd-bad")
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Publish("esd/x", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Publish("esd/x", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("large payload error = %v", err)
	}
	if err := c.Publish("esd/x", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if err := c.Subscribe("esd/x", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("esd/x", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected subscribe error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscribe was tracked")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "esd-test-roundtrip")
	topic := Topics{}.TagValue("test", "PT-RT")

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	err := client.Subscribe(Topics{}.AllTagValues(), 1, func(tp string, payload []byte) error {
		if tp != topic {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if got == nil {
			got = payload
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllTagValues()) {
		t.Error("subscription not tracked")
	}

	if err := client.PublishJSON(topic, map[string]any{"tag": "PT-RT", "value": 4.2}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}
	mu.Lock()
	defer mu.Unlock()
	var msg map[string]any
	if err := json.Unmarshal(got, &msg); err != nil || msg["value"] != 4.2 {
		t.Errorf("payload = %s, err %v", got, err)
	}

	if err := client.Unsubscribe(Topics{}.AllTagValues()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	client := connectOrSkip(t, "esd-test-panic")
	topic := Topics{}.CoreEvent("panic-test")

	received := make(chan struct{}, 2)
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		received <- struct{}{}
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for range 2 {
		if err := client.Publish(topic, []byte("x"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for range 2 {
		select {
		case <-received:
		case <-time.After(3 * time.Second):
			t.Fatal("handler stopped receiving after panic")
		}
	}
}
