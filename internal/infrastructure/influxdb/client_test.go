package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ampmatter/ampmatter-core/internal/connection"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/config"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "ampmatter-dev-token",
		Org:           "ampmatter",
		Bucket:        "boat",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// fakeInflux answers /ping and captures line protocol sent to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu    sync.Mutex
	lines []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// waitLines polls until n lines have arrived; the write API is asynchronous.
func (f *fakeInflux) waitLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		lines := f.written()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	srv := newFakeInflux(t)
	cfg := testConfig()
	cfg.URL = srv.URL

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, srv
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:1"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig()
	cfg.URL = srv.URL
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := connectFake(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	client, _ := connectFake(t)
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWritePoint(t *testing.T) {
	client, srv := connectFake(t)

	client.WritePoint("tank",
		map[string]string{"tank": "fresh1"},
		map[string]any{"level": 42.5},
	)
	client.WritePoint("empty", nil, map[string]any{})
	client.Flush()

	lines := srv.waitLines(t, 1)
	if len(lines) != 1 {
		t.Fatalf("written lines = %d, want 1: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "tank,tank=fresh1 level=42.5 ") {
		t.Errorf("line = %q, want tank,tank=fresh1 level=42.5 <ts>", lines[0])
	}
}

func TestObserve_StateChange(t *testing.T) {
	client, srv := connectFake(t)

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	client.Observe(connection.Event{
		Kind: connection.EventStateChanged,
		Name: "mqtt.relays",
		Time: at,
		From: connection.StateConnecting,
		Status: connection.Status{
			State:     connection.StateError,
			Retry:     connection.RetryState{Count: 2},
			LastError: errors.New("refused"),
		},
	})
	client.Observe(connection.Event{
		Kind:   connection.EventRetryScheduled,
		Name:   "mqtt.relays",
		Time:   at,
		Delay:  2250 * time.Millisecond,
		Status: connection.Status{Retry: connection.RetryState{Count: 3}},
	})
	client.Observe(connection.Event{Kind: connection.EventMessage, Name: "mqtt.relays"})
	client.Flush()

	lines := srv.waitLines(t, 2)
	if len(lines) != 2 {
		t.Fatalf("written lines = %d, want 2: %v", len(lines), lines)
	}
	for _, want := range []string{`connection_state,connection=mqtt.relays`, `state="error"`, `from="connecting"`, `error="refused"`, `connected=false`} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("state line %q missing %q", lines[0], want)
		}
	}
	for _, want := range []string{`connection_retry,connection=mqtt.relays`, `delay_ms=2250i`, `attempt=3i`} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("retry line %q missing %q", lines[1], want)
		}
	}
}

func TestWrite_AfterCloseIsNoOp(t *testing.T) {
	client, srv := connectFake(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	client.WritePoint("tank", nil, map[string]any{"level": 1.0})
	client.Flush()

	if lines := srv.written(); len(lines) != 0 {
		t.Errorf("written after close = %v, want none", lines)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil = true")
	}
}

// =============================================================================
// Integration
// =============================================================================

func TestLiveServer_WriteAndFlush(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WritePoint("weather", map[string]string{"field": "pressure"}, map[string]any{"value": 1013.2})
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}
