package events

import "errors"

// Receive errors.
var (
	// ErrLagged means events were dropped because the subscriber fell behind.
	ErrLagged = errors.New("events: subscriber lagged")

	// ErrClosed means the bus or the subscription has been closed.
	ErrClosed = errors.New("events: closed")

	// ErrTimeout means no event arrived within the requested wait.
	ErrTimeout = errors.New("events: timed out")
)
