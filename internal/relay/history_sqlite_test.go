package relay

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupHistoryTestDB creates an in-memory SQLite database with the
// relay_state_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE relay_state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			relay_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			ipv4 TEXT NOT NULL,
			state INTEGER NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestSQLiteHistoryRepository_RecordAndList(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	items := []Item{
		{ID: 1, Name: "Porch", IPv4: "10.8.32.5", State: true, LastUpdated: base},
		{ID: 1, Name: InactiveName, IPv4: UnassignedIPv4, State: false, LastUpdated: base.Add(3 * time.Second)},
		{ID: 2, Name: "Garage", IPv4: "10.8.32.9", State: true, LastUpdated: base.Add(time.Second)},
	}
	for _, item := range items {
		if err := repo.Record(ctx, item, ""); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].State || entries[0].Name != InactiveName {
		t.Errorf("newest entry = %+v, want the switch-off", entries[0])
	}
	if !entries[1].State || entries[1].IPv4 != "10.8.32.5" {
		t.Errorf("oldest entry = %+v", entries[1])
	}
	if entries[0].Source != HistorySourceClient {
		t.Errorf("Source = %q, want %q", entries[0].Source, HistorySourceClient)
	}
	if !entries[1].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", entries[1].CreatedAt, base)
	}
}

func TestSQLiteHistoryRepository_ListLimit(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		item := Item{ID: 3, Name: "Shed", IPv4: "10.8.32.3", State: i%2 == 0, LastUpdated: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Record(ctx, item, HistorySourceDiscovery); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.List(ctx, 3, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if !entries[0].CreatedAt.Equal(base.Add(4 * time.Second)) {
		t.Errorf("newest CreatedAt = %v", entries[0].CreatedAt)
	}

	empty, err := repo.List(ctx, 9, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("List(unknown) = %v, want empty non-nil slice", empty)
	}
}

func TestSQLiteHistoryRepository_RecordRequiresID(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryTestDB(t))
	if err := repo.Record(context.Background(), Item{}, ""); err == nil {
		t.Error("Record() expected error for missing relay id")
	}
}

func TestSQLiteHistoryRepository_Prune(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryTestDB(t))
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	old := Item{ID: 1, Name: "Porch", IPv4: "10.8.32.5", State: true, LastUpdated: now.Add(-48 * time.Hour)}
	recent := Item{ID: 1, Name: "Porch", IPv4: "10.8.32.5", State: false, LastUpdated: now.Add(-time.Hour)}
	for _, item := range []Item{old, recent} {
		if err := repo.Record(ctx, item, ""); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d rows, want 1", n)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) expected error")
	}
}
