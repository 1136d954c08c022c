package relay

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeLayout is fixed-width so created_at sorts lexically.
	historyTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteHistoryRepository implements HistoryRepository on the
// relay_state_history table.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistoryRepository creates a repository on an open, migrated database.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db, now: time.Now}
}

// Record inserts a history row for item.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - item: Relay as it stands after the mutation
//   - source: Origin of the change (client, discovery); empty means client
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) Record(ctx context.Context, item Item, source string) error {
	if item.ID < 1 {
		return fmt.Errorf("relay id is required")
	}
	if source == "" {
		source = HistorySourceClient
	}

	createdAt := item.LastUpdated
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO relay_state_history (relay_id, name, ipv4, state, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Name,
		item.IPv4,
		item.State,
		source,
		createdAt.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting relay history: %w", err)
	}
	return nil
}

// List returns recent history for a relay, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - relayID: Relay identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered by created_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) List(ctx context.Context, relayID int, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, relay_id, name, ipv4, state, source, created_at
		 FROM relay_state_history
		 WHERE relay_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		relayID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying relay history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var entry HistoryEntry
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.RelayID, &entry.Name, &entry.IPv4,
			&entry.State, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning relay history: %w", err)
		}

		entry.CreatedAt, err = parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relay history: %w", err)
	}

	return entries, nil
}

// Prune deletes history older than olderThan.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(historyTimeLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM relay_state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting relay history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
