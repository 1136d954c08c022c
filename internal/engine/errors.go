package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrNotFound is returned when a mutation names an unknown relay id.
	ErrNotFound = errors.New("engine: relay not found")

	// ErrPersist is returned when the table could not be written to disk.
	// The in-memory change has still been applied.
	ErrPersist = errors.New("engine: persisting relay table failed")

	// ErrNoBoard is returned when an operation needs a registered board.
	ErrNoBoard = errors.New("engine: no board registered")

	// ErrInvalidCommand is returned for malformed MQTT relay commands.
	ErrInvalidCommand = errors.New("engine: invalid command")
)
