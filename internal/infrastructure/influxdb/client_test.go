package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relayboard-core/internal/infrastructure/config"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/influxdb"
)

// fakeInflux answers pings and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	server *httptest.Server

	mu    sync.Mutex
	lines []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()

	f := &fakeInflux{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
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
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "relayboard-test-token",
		Org:           "relayboard",
		Bucket:        "relays",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	url := f.server.URL
	f.server.Close()

	if _, err := influxdb.Connect(testConfig(url)); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_HealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.server.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteRelayState(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WriteRelayState(3, true, 0b101, at)
	client.WriteRelayState(1, false, 0b100, at.Add(time.Second))
	client.Flush()

	lines := f.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %v", len(lines), lines)
	}
	want := "relay_state,relay_id=3 bitmask=5i,state=1i " + "1772366400000000000"
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
	if !strings.Contains(lines[1], "relay_id=1") || !strings.Contains(lines[1], "state=0i") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestCloseStopsWrites(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	client.WriteRelayState(1, true, 1, time.Now())
	client.Flush()
	if n := len(f.written()); n != 0 {
		t.Errorf("wrote %d lines after Close()", n)
	}

	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	var nilClient *influxdb.Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestWriteErrorsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, `{"code":"invalid","message":"bucket not found"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := influxdb.Connect(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	reported := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case reported <- err:
		default:
		}
	})

	client.WriteRelayState(2, true, 0b10, time.Now())
	client.Flush()

	select {
	case <-reported:
	case <-time.After(5 * time.Second):
		t.Fatal("write error was not reported")
	}
	if client.WriteErrors() == 0 {
		t.Error("WriteErrors() = 0 after a failed write")
	}
}
