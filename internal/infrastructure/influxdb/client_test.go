package influxdb_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and collects /api/v2/write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping", "/health":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "esd-test-token",
		Org:           "esd",
		Bucket:        "outcomes",
		BatchSize:     100,
		FlushInterval: 60,
	}
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := influxdb.Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client, fake
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteStepOutcome(t *testing.T) {
	client, fake := connectFake(t)
	defer client.Close()

	client.WriteStepOutcome("seq-1", 3, "close_valve", "success", 2*time.Second)
	client.Flush()

	got := fake.written()
	if !strings.Contains(got, "esd_step,action=close_valve,outcome=success,sequence_id=seq-1,step=3 ") {
		t.Errorf("write body = %q, missing step tags", got)
	}
	if !strings.Contains(got, "duration_ms=2000i") {
		t.Errorf("write body = %q, missing duration", got)
	}
}

func TestWriteExecutionOutcome(t *testing.T) {
	client, fake := connectFake(t)
	defer client.Close()

	client.WriteExecutionOutcome("seq-9", "emergency_stop", "completed", true, 1500*time.Millisecond)
	client.Flush()

	got := fake.written()
	if !strings.Contains(got, "esd_execution,emergency=true,sequence_id=seq-9,sequence_type=emergency_stop,status=completed ") {
		t.Errorf("write body = %q, missing execution tags", got)
	}
}

func TestWriteAfterClose(t *testing.T) {
	client, fake := connectFake(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	client.WriteStepOutcome("seq-1", 1, "wait", "success", time.Second)
	client.Flush()
	if got := fake.written(); got != "" {
		t.Errorf("write after Close sent %q", got)
	}
}

func TestNilClientIsDisconnected(t *testing.T) {
	var c *influxdb.Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
}
