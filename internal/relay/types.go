package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Sentinel values carried by relays that are switched off.
const (
	// InactiveName is the name of a relay with no panel attached.
	InactiveName = "-"

	// UnassignedIPv4 is the address of a relay with no panel attached.
	UnassignedIPv4 = "-.-.-.-"
)

// Table size limits.
const (
	// MaxRelays is the number of outputs addressable by a Bitmask.
	MaxRelays = 16

	// DefaultCount is the size of the table created when no state file exists.
	DefaultCount = 10
)

// Item is one relay as seen by clients and persisted on disk.
type Item struct {
	// ID is 1-based and maps to bit ID-1 of the board bitmask.
	ID int `json:"id"`

	// Name is the panel label, or InactiveName.
	Name string `json:"name"`

	// IPv4 is the dotted address of the attached panel, or UnassignedIPv4.
	IPv4 string `json:"ipv4"`

	// LastUpdated is the time of the last accepted mutation.
	LastUpdated time.Time `json:"last_updated"`

	// State is true when the relay is switched on.
	State bool `json:"state"`
}

// UnmarshalJSON accepts last_updated either as an RFC 3339 string or as
// the {"secs_since_epoch","nanos_since_epoch"} object written by older
// state files.
func (i *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	aux := struct {
		*plain
		LastUpdated json.RawMessage `json:"last_updated"`
	}{plain: (*plain)(i)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts, err := parseTimestamp(aux.LastUpdated)
	if err != nil {
		return fmt.Errorf("last_updated: %w", err)
	}
	i.LastUpdated = ts
	return nil
}

// epochTimestamp is a wall-clock time split into seconds and nanoseconds
// since the Unix epoch.
type epochTimestamp struct {
	Secs  *int64 `json:"secs_since_epoch"`
	Nanos int64  `json:"nanos_since_epoch"`
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] != '{' {
		var ts time.Time
		err := json.Unmarshal(raw, &ts)
		return ts, err
	}

	var epoch epochTimestamp
	if err := json.Unmarshal(raw, &epoch); err != nil {
		return time.Time{}, err
	}
	if epoch.Secs == nil {
		return time.Time{}, fmt.Errorf("secs_since_epoch missing")
	}
	if epoch.Nanos < 0 || epoch.Nanos >= int64(time.Second) {
		return time.Time{}, fmt.Errorf("nanos_since_epoch %d out of range", epoch.Nanos)
	}
	return time.Unix(*epoch.Secs, epoch.Nanos).UTC(), nil
}

// Inactive reports whether the item carries both sentinel values.
func (i Item) Inactive() bool {
	return i.Name == InactiveName && i.IPv4 == UnassignedIPv4
}

// Table is the ordered relay table. Its size is fixed once loaded.
type Table struct {
	Relays []Item `json:"relays"`
}

// DefaultTable returns n switched-off relays with ids 1..n, sentinel
// names and addresses, and zero timestamps.
func DefaultTable(n int) *Table {
	t := &Table{Relays: make([]Item, n)}
	for i := range t.Relays {
		t.Relays[i] = Item{
			ID:   i + 1,
			Name: InactiveName,
			IPv4: UnassignedIPv4,
		}
	}
	return t
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{Relays: make([]Item, len(t.Relays))}
	copy(out.Relays, t.Relays)
	return out
}

// Index returns the slice position of the relay with the given id, or -1.
func (t *Table) Index(id int) int {
	for i := range t.Relays {
		if t.Relays[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns a copy of the relay with the given id.
func (t *Table) Find(id int) (Item, bool) {
	if i := t.Index(id); i >= 0 {
		return t.Relays[i], true
	}
	return Item{}, false
}

// Validate checks that the table fits on one board: at most MaxRelays items
// with unique ids in 1..MaxRelays.
func (t *Table) Validate() error {
	if len(t.Relays) > MaxRelays {
		return fmt.Errorf("%w: %d relays exceeds maximum of %d", ErrInvalidTable, len(t.Relays), MaxRelays)
	}

	seen := make(map[int]bool, len(t.Relays))
	for _, item := range t.Relays {
		if item.ID < 1 || item.ID > MaxRelays {
			return fmt.Errorf("%w: relay id %d out of range 1..%d", ErrInvalidTable, item.ID, MaxRelays)
		}
		if seen[item.ID] {
			return fmt.Errorf("%w: duplicate relay id %d", ErrInvalidTable, item.ID)
		}
		seen[item.ID] = true
	}
	return nil
}
