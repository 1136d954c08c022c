package board

import (
	"errors"
	"fmt"
	"net/netip"
)

// Domain errors for the board package.
var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("board: transport failure")

	// ErrDiscoveryExhausted is returned when no host on the subnet answered the probe.
	ErrDiscoveryExhausted = errors.New("board: no board answered on subnet")

	// ErrAlreadyRegistered is returned when a board is already registered.
	ErrAlreadyRegistered = errors.New("board: already registered")

	// ErrInvalidDevice is returned when a registration carries the wrong device tag.
	ErrInvalidDevice = errors.New("board: invalid device")

	// ErrInvalidAddress is returned when a registration address is not dotted IPv4.
	ErrInvalidAddress = errors.New("board: invalid address")

	// ErrClosed is returned by panel scans after Close.
	ErrClosed = errors.New("board: transport closed")
)

// TransportError describes a failed exchange with the board.
type TransportError struct {
	// Op is the protocol operation, e.g. "push".
	Op string

	// Addr is the board address.
	Addr netip.Addr

	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("board: %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap lets errors.Is match both ErrTransport and the cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
