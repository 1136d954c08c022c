package engine

import (
	"context"
	"net/netip"
	"sort"
	"time"

	"github.com/nerrad567/relayboard-core/internal/relay"
)

// ReconcilePanelDiscovery finds the panel that was plugged into relay
// targetID. It scans for panels, waits ReconcileDelay, scans again, and
// if exactly one address is new it becomes the relay's IPv4.
//
// It is a silent no-op when no board is registered, when zero or several
// panels appeared, or when the relay was switched off in the meantime.
// The table lock is never held across a scan or the wait.
//
// Returns:
//   - netip.Addr: The assigned address, or the zero Addr if none
//   - error: Scan failures or the context error
func (e *Engine) ReconcilePanelDiscovery(ctx context.Context, targetID int) (netip.Addr, error) {
	b, ok := e.registry.Current()
	if !ok {
		return netip.Addr{}, nil
	}
	before, err := b.DiscoverPanels(ctx)
	if err != nil {
		return netip.Addr{}, err
	}

	timer := time.NewTimer(e.cfg.ReconcileDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	case <-timer.C:
	}

	b, ok = e.registry.Current()
	if !ok {
		return netip.Addr{}, nil
	}
	after, err := b.DiscoverPanels(ctx)
	if err != nil {
		return netip.Addr{}, err
	}

	fresh := newPanels(before, after)
	if len(fresh) != 1 {
		e.log().Debug("panel reconciliation inconclusive", "relay_id", targetID, "new_panels", len(fresh))
		return netip.Addr{}, nil
	}
	addr := fresh[0]

	if _, ok := e.registry.Current(); !ok {
		return netip.Addr{}, nil
	}

	e.mu.Lock()
	idx := e.table.Index(targetID)
	if idx < 0 || !e.table.Relays[idx].State {
		e.mu.Unlock()
		return netip.Addr{}, nil
	}
	item := e.table.Relays[idx]
	item.IPv4 = addr.String()
	e.table.Relays[idx] = item
	version, snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.commit(version, snapshot, true); err != nil {
		e.log().Error("persisting reconciled relay failed", "relay_id", targetID, "error", err)
	}
	e.publish(item, snapshot.Bitmask(), relay.HistorySourceDiscovery)

	e.log().Info("panel address assigned", "relay_id", targetID, "ipv4", item.IPv4)
	return addr, nil
}

// newPanels returns the addresses in after that are not in before, sorted.
func newPanels(before, after map[netip.Addr]struct{}) []netip.Addr {
	var fresh []netip.Addr
	for addr := range after {
		if _, seen := before[addr]; !seen {
			fresh = append(fresh, addr)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Less(fresh[j]) })
	return fresh
}
