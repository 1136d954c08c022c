package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/nerrad567/relayboard-core/internal/engine"
	"github.com/nerrad567/relayboard-core/internal/infrastructure/database"
	"github.com/nerrad567/relayboard-core/internal/relay"
	"github.com/nerrad567/relayboard-core/migrations"
)

type historyResponse struct {
	RelayID int                  `json:"relay_id"`
	Entries []relay.HistoryEntry `json:"entries"`
	Count   int                  `json:"count"`
}

func historyRepo(t *testing.T) relay.HistoryRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		BusyTimeout: 5,
		Migrations:  migrations.FS,
	})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return relay.NewSQLiteHistoryRepository(db.DB)
}

func TestListRelays(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/relays", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if table := decode[relay.Table](t, w.Body.Bytes()); len(table.Relays) != 10 {
		t.Errorf("relays = %d, want 10", len(table.Relays))
	}
}

func TestGetRelay(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/relays/7", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if item := decode[relay.Item](t, w.Body.Bytes()); item.ID != 7 {
		t.Errorf("id = %d, want 7", item.ID)
	}

	tests := map[string]int{
		"/api/v1/relays/11":  http.StatusNotFound,
		"/api/v1/relays/0":   http.StatusBadRequest,
		"/api/v1/relays/abc": http.StatusBadRequest,
	}
	for target, want := range tests {
		if w := env.serve(httptest.NewRequest(http.MethodGet, target, nil)); w.Code != want {
			t.Errorf("GET %s status = %d, want %d", target, w.Code, want)
		}
	}
}

func TestRelayHistory(t *testing.T) {
	repo := historyRepo(t)
	env := testServer(t, testOptions{
		history: repo,
		sinks:   []engine.Sink{engine.NewHistorySink(repo)},
	})

	if w := postData(env, `{"id":3,"name":"Kitchen","ipv4":"10.8.32.9","state":true}`); w.Code != http.StatusOK {
		t.Fatalf("POST /data status = %d", w.Code)
	}

	var body historyResponse
	waitFor(t, "history entry", func() bool {
		w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/relays/3/history", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("history status = %d", w.Code)
		}
		body = decode[historyResponse](t, w.Body.Bytes())
		return body.Count == 1
	})

	entry := body.Entries[0]
	if body.RelayID != 3 || entry.Name != "Kitchen" || !entry.State || entry.Source != relay.HistorySourceClient {
		t.Errorf("history = %+v", body)
	}

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/relays/4/history", nil))
	if got := decode[map[string]any](t, w.Body.Bytes()); got["count"] != float64(0) {
		t.Errorf("relay 4 history = %v, want empty", got)
	}
}

func TestRelayHistory_Errors(t *testing.T) {
	env := testServer(t, testOptions{history: historyRepo(t)})

	tests := map[string]int{
		"/api/v1/relays/12/history":         http.StatusNotFound,
		"/api/v1/relays/x/history":          http.StatusBadRequest,
		"/api/v1/relays/1/history?limit=0":  http.StatusBadRequest,
		"/api/v1/relays/1/history?limit=ab": http.StatusBadRequest,
		"/api/v1/relays/1/history?limit=5":  http.StatusOK,
	}
	for target, want := range tests {
		if w := env.serve(httptest.NewRequest(http.MethodGet, target, nil)); w.Code != want {
			t.Errorf("GET %s status = %d, want %d", target, w.Code, want)
		}
	}
}

func TestRelayHistory_Disabled(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/relays/1/history", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestBoardSync(t *testing.T) {
	env := testServer(t, testOptions{})

	w := env.serve(httptest.NewRequest(http.MethodPost, "/api/v1/board/sync", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("sync without board status = %d, want 503", w.Code)
	}

	if err := env.engine.Adopt(netip.MustParseAddr("127.0.0.1")); err != nil {
		t.Fatalf("Adopt() error: %v", err)
	}
	if _, err := env.engine.Apply(context.Background(), relay.Item{ID: 1, State: true}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	w = env.serve(httptest.NewRequest(http.MethodPost, "/api/v1/board/sync", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w.Body.Bytes())
	if resp["board"] != "127.0.0.1" || resp["requested"] != "1" || resp["echoed"] != "1" || resp["matched"] != true {
		t.Errorf("sync = %v", resp)
	}

	env.board.setStatus(http.StatusInternalServerError)
	w = env.serve(httptest.NewRequest(http.MethodPost, "/api/v1/board/sync", nil))
	if w.Code != http.StatusBadGateway {
		t.Errorf("sync with failing board status = %d, want 502", w.Code)
	}
}
