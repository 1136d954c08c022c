package relay

import "errors"

// Domain errors for the relay package.
var (
	// ErrInvalidTable is returned when a table fails validation.
	ErrInvalidTable = errors.New("relay: invalid table")

	// ErrCorruptState is returned when the state file exists but cannot be decoded.
	ErrCorruptState = errors.New("relay: corrupt state file")

	// ErrInvalidBitmask is returned when a board response is not a decimal bitmask.
	ErrInvalidBitmask = errors.New("relay: invalid bitmask")
)
