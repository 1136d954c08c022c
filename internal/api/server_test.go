package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relayboard-core/internal/board"
	"github.com/nerrad567/relayboard-core/internal/engine"
	"github.com/nerrad567/relayboard-core/internal/events"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/config"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/logging"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// testOptions tweaks testServer.
type testOptions struct {
	store    relay.Store
	history  relay.HistoryRepository
	sinks    []engine.Sink
	longPoll time.Duration
	mqtt     MQTTStatus
	db       DBStats
	influx   InfluxStatus
}

// testEnv is a server wired to a real engine, bus and board registry.
type testEnv struct {
	srv    *Server
	engine *engine.Engine
	bus    *events.Bus
	board  *fakeBoard
}

// fakeBoard is an httptest relay board answering POST /set.
type fakeBoard struct {
	server *httptest.Server

	mu       sync.Mutex
	status   int
	received []string
}

func newFakeBoard(t *testing.T) *fakeBoard {
	t.Helper()
	fb := &fakeBoard{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /set", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		fb.mu.Lock()
		fb.received = append(fb.received, string(body))
		status := fb.status
		fb.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write(body) //nolint:errcheck // Test server
	})
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBoard) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(fb.server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split listener address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return port
}

func (fb *fakeBoard) setStatus(status int) {
	fb.mu.Lock()
	fb.status = status
	fb.mu.Unlock()
}

func (fb *fakeBoard) pushes() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.received...)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// testServer creates a Server over ten relays with no board registered.
// The fake board is reachable at 127.0.0.1 once registered.
func testServer(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	fb := newFakeBoard(t)
	transport := board.NewTransport(board.Config{
		Subnet:       netip.MustParsePrefix("127.0.0.0/24"),
		HTTPPort:     fb.port(t),
		ProbeTimeout: 500 * time.Millisecond,
		PushTimeout:  time.Second,
		Panels: board.PanelConfig{
			Broadcast:    netip.MustParseAddrPort("127.0.0.1:9"),
			LocalPort:    board.EphemeralLocalPort,
			ListenWindow: 50 * time.Millisecond,
			ReadSlice:    10 * time.Millisecond,
		},
	})

	t.Cleanup(func() { transport.Close() })

	store := opts.store
	if store == nil {
		store = relay.NewFileStore(filepath.Join(t.TempDir(), "data.json"), relay.DefaultCount)
	}

	bus := events.NewBus(events.DefaultBacklog)
	eng, err := engine.New(engine.Deps{
		Config: engine.Config{
			Debounce:       2 * time.Second,
			ReconcileDelay: time.Hour,
			SyncPersist:    true,
		},
		Table:    relay.DefaultTable(relay.DefaultCount),
		Store:    store,
		Bus:      bus,
		Registry: engine.BoardRegistry(board.NewRegistry(transport)),
		Sinks:    opts.sinks,
	})
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}

	longPoll := opts.longPoll
	if longPoll == 0 {
		longPoll = 5 * time.Second
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 15,
				Idle:  5,
			},
			LongPollTimeout: longPoll,
		},
		WS: config.WebSocketConfig{
			Enabled:        true,
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  testLogger(),
		Engine:  eng,
		Bus:     bus,
		History: opts.history,
		MQTT:    opts.mqtt,
		DB:      opts.db,
		Influx:  opts.influx,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	t.Cleanup(func() {
		srv.Close() //nolint:errcheck // Test cleanup
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx) //nolint:errcheck // Test cleanup
		bus.Close()
	})

	return &testEnv{srv: srv, engine: eng, bus: bus, board: fb}
}

// serve runs a request through the router.
func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[map[string]any](t, w.Body.Bytes())
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	if resp["relays"] != float64(10) {
		t.Errorf("relays = %v, want 10", resp["relays"])
	}
	boardStatus, _ := resp["board"].(map[string]any) //nolint:errcheck // checked below
	if boardStatus["registered"] != false {
		t.Errorf("board = %v, want unregistered", boardStatus)
	}
}

func TestHealth_ReportsBoard(t *testing.T) {
	env := testServer(t, testOptions{})
	if err := env.engine.Adopt(netip.MustParseAddr("127.0.0.1")); err != nil {
		t.Fatalf("Adopt() error: %v", err)
	}

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	resp := decode[map[string]any](t, w.Body.Bytes())
	boardStatus, _ := resp["board"].(map[string]any) //nolint:errcheck // checked below
	if boardStatus["registered"] != true || boardStatus["address"] != "127.0.0.1" {
		t.Errorf("board = %v", boardStatus)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t, testOptions{})
	if _, err := env.engine.Apply(context.Background(), relay.Item{ID: 2, State: true}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w.Body.Bytes())
	if m.Relays.Total != 10 || m.Relays.On != 1 || m.Relays.Bitmask != "2" {
		t.Errorf("relays = %+v", m.Relays)
	}
	if m.MQTT != nil || m.Database != nil || m.InfluxDB != nil {
		t.Error("optional sections present without their dependencies")
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime metrics missing")
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if len(w.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", w.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t, testOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := env.serve(req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, testOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/data", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := env.serve(req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := testServer(t, testOptions{})
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := env.serve(req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want none", got)
	}
}

func TestRecovery(t *testing.T) {
	env := testServer(t, testOptions{})
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestStaticUI(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", w.Code)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t, testOptions{})

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	url := "http://" + env.srv.Addr().String() + "/api/v1/health"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Error("server still responding after Close()")
	}
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close should fail")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	env := testServer(t, testOptions{})
	env.srv.cfg.Port = ln.Addr().(*net.TCPAddr).Port

	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("Start() on a used port should fail")
	}
}

func TestHealthCheck_CancelledContext(t *testing.T) {
	env := testServer(t, testOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := env.srv.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}
