package board

import (
	"fmt"
	"net/netip"
	"sync"
)

// Registration is the body a board sends to announce itself.
type Registration struct {
	Device string `json:"device"`
	IP     string `json:"ip"`
}

// ParseRegistration checks the device tag and returns the announced address.
//
// Returns:
//   - netip.Addr: The board's IPv4 address
//   - error: ErrInvalidDevice or ErrInvalidAddress
func ParseRegistration(reg Registration, deviceTag string) (netip.Addr, error) {
	if reg.Device != deviceTag {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidDevice, reg.Device)
	}
	addr, err := netip.ParseAddr(reg.IP)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, reg.IP)
	}
	return addr, nil
}

// Registry holds the one board this process controls.
//
// A board can be registered once; there is no way back to unregistered.
type Registry struct {
	transport *Transport

	mu      sync.RWMutex
	current *Handle
}

// NewRegistry creates an empty registry whose handles use transport.
func NewRegistry(transport *Transport) *Registry {
	return &Registry{transport: transport}
}

// Register records addr as the board.
//
// Returns:
//   - *Handle: The new board handle
//   - error: ErrAlreadyRegistered if a board is already known; the
//     existing registration is left unchanged
func (r *Registry) Register(addr netip.Addr) (*Handle, error) {
	h := r.transport.Handle(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return nil, fmt.Errorf("%w at %s", ErrAlreadyRegistered, r.current.addr)
	}
	r.current = h
	return h, nil
}

// Current returns the registered board, if any.
func (r *Registry) Current() (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.current != nil
}

// Transport returns the transport used by registered handles.
func (r *Registry) Transport() *Transport {
	return r.transport
}
