package relay

import (
	"context"
	"time"
)

// History source values.
const (
	// HistorySourceClient marks mutations submitted through the API.
	HistorySourceClient = "client"

	// HistorySourceDiscovery marks addresses assigned by panel reconciliation.
	HistorySourceDiscovery = "discovery"
)

// HistoryEntry is one accepted mutation of a relay.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	RelayID   int       `json:"relay_id"`
	Name      string    `json:"name"`
	IPv4      string    `json:"ipv4"`
	State     bool      `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves relay mutation history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type HistoryRepository interface {
	// Record appends the post-mutation item.
	Record(ctx context.Context, item Item, source string) error

	// List returns up to limit entries for relayID, newest first.
	List(ctx context.Context, relayID int, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than olderThan and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
