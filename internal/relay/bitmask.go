package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Bitmask is the board wire representation of the table: bit ID-1 is set
// when relay ID is on.
type Bitmask uint16

// Bitmask encodes the on/off state of every relay. Ids outside
// 1..MaxRelays are ignored.
func (t *Table) Bitmask() Bitmask {
	var mask Bitmask
	for _, item := range t.Relays {
		if item.State && item.ID >= 1 && item.ID <= MaxRelays {
			mask |= 1 << (item.ID - 1)
		}
	}
	return mask
}

// IsOn reports whether the bit for relay id is set.
func (b Bitmask) IsOn(id int) bool {
	if id < 1 || id > MaxRelays {
		return false
	}
	return b&(1<<(id-1)) != 0
}

// Diff returns the ids whose state differs between b and other, ascending.
func (b Bitmask) Diff(other Bitmask) []int {
	var ids []int
	x := b ^ other
	for id := 1; id <= MaxRelays; id++ {
		if x.IsOn(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// String returns the decimal form used on the wire.
func (b Bitmask) String() string {
	return strconv.FormatUint(uint64(b), 10)
}

// ParseBitmask parses a decimal bitmask, ignoring surrounding whitespace.
func ParseBitmask(s string) (Bitmask, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBitmask, s)
	}
	return Bitmask(v), nil
}
