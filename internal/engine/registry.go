package engine

import (
	"context"
	"net/netip"

	"github.com/nerrad567/relayboard-core/internal/board"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// Board is the part of a board handle the engine drives.
type Board interface {
	Addr() netip.Addr
	PushRelayState(ctx context.Context, mask relay.Bitmask) (relay.Bitmask, error)
	DiscoverPanels(ctx context.Context) (map[netip.Addr]struct{}, error)
}

// Registry holds the single registered board.
type Registry interface {
	Current() (Board, bool)
	Register(addr netip.Addr) (Board, error)
}

// BoardRegistry adapts a *board.Registry to Registry.
func BoardRegistry(r *board.Registry) Registry {
	return boardRegistry{r: r}
}

type boardRegistry struct {
	r *board.Registry
}

func (b boardRegistry) Current() (Board, bool) {
	h, ok := b.r.Current()
	if !ok {
		return nil, false
	}
	return h, true
}

func (b boardRegistry) Register(addr netip.Addr) (Board, error) {
	h, err := b.r.Register(addr)
	if err != nil {
		return nil, err
	}
	return h, nil
}
