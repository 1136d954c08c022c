package board

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

const (
	defaultBroadcastPort = 991
	defaultLocalPort     = 999
	defaultPanelMessage  = "WhereAreYou.01"
	defaultListenWindow  = 3 * time.Second
	defaultReadSlice     = 500 * time.Millisecond
)

// EphemeralLocalPort as PanelConfig.LocalPort binds the panel socket to a
// kernel-chosen port.
const EphemeralLocalPort = -1

// panelSocket is the UDP socket shared by every scan of one Transport.
// It is opened on the first scan and kept until Close.
type panelSocket struct {
	conn   *net.UDPConn
	closed bool
}

func withPanelDefaults(p PanelConfig, subnet netip.Prefix) PanelConfig {
	if p.BroadcastPort == 0 {
		p.BroadcastPort = defaultBroadcastPort
	}
	if p.LocalPort == 0 {
		p.LocalPort = defaultLocalPort
	}
	if p.Message == "" {
		p.Message = defaultPanelMessage
	}
	if p.ListenWindow <= 0 {
		p.ListenWindow = defaultListenWindow
	}
	if p.ReadSlice <= 0 {
		p.ReadSlice = defaultReadSlice
	}
	if !p.Broadcast.IsValid() && subnet.IsValid() && subnet.Addr().Is4() {
		octets := subnet.Masked().Addr().As4()
		octets[3] = 255
		p.Broadcast = netip.AddrPortFrom(netip.AddrFrom4(octets), uint16(p.BroadcastPort)) //nolint:gosec // Port validated by config
	}
	return p
}

// DiscoverPanels broadcasts the panel query and collects the distinct IPv4
// source addresses that answer within the listen window.
//
// Scans share one socket bound to LocalPort, so concurrent callers are
// serialized: a second scan waits for the first to finish (or for its own
// context to end) and then runs its own full listen window.
//
// Go enables SO_BROADCAST on every UDP socket it creates on Unix, so the
// socket can address <subnet>.255 directly.
//
// Returns:
//   - map[netip.Addr]struct{}: Every panel that answered (may be empty)
//   - error: Socket errors, ErrClosed, or the context error if cancelled
func (t *Transport) DiscoverPanels(ctx context.Context) (map[netip.Addr]struct{}, error) {
	p := t.cfg.Panels
	if !p.Broadcast.IsValid() {
		return nil, fmt.Errorf("board: panel scan needs an IPv4 subnet")
	}

	var sock *panelSocket
	select {
	case sock = <-t.scan:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { t.scan <- sock }()

	if sock.closed {
		return nil, ErrClosed
	}
	if sock.conn == nil {
		conn, err := listenPanels(p.LocalPort)
		if err != nil {
			return nil, fmt.Errorf("binding panel scan socket: %w", err)
		}
		sock.conn = conn
	}

	panels, err := scanPanels(ctx, sock.conn, p)
	if err != nil {
		var netErr net.Error
		if !errors.As(err, &netErr) {
			return nil, err
		}
		// Reopen on the next scan rather than reuse a failed socket.
		sock.conn.Close() //nolint:errcheck // Replaced on the next scan
		sock.conn = nil
		return nil, err
	}

	t.log().Debug("panel scan finished", "panels", len(panels))
	return panels, nil
}

// Close releases the panel socket, waiting for a running scan to finish.
// Later scans return ErrClosed. Close is idempotent.
func (t *Transport) Close() error {
	sock := <-t.scan
	defer func() { t.scan <- sock }()

	if sock.closed {
		return nil
	}
	sock.closed = true
	if sock.conn == nil {
		return nil
	}
	err := sock.conn.Close()
	sock.conn = nil
	return err
}

func listenPanels(port int) (*net.UDPConn, error) {
	if port == EphemeralLocalPort {
		port = 0
	}
	return net.ListenUDP("udp4", &net.UDPAddr{Port: port})
}

// scanPanels sends one query on conn and reads replies until the listen
// window closes. Replies still queued from an earlier scan are counted too;
// they come from panels that exist.
func scanPanels(ctx context.Context, conn *net.UDPConn, p PanelConfig) (map[netip.Addr]struct{}, error) {
	if _, err := conn.WriteToUDPAddrPort([]byte(p.Message), p.Broadcast); err != nil {
		return nil, fmt.Errorf("sending panel query: %w", err)
	}

	panels := make(map[netip.Addr]struct{})
	buf := make([]byte, udpBufferSize)
	end := time.Now().Add(p.ListenWindow)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := time.Now()
		if !now.Before(end) {
			return panels, nil
		}

		deadline := now.Add(p.ReadSlice)
		if deadline.After(end) {
			deadline = end
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}

		_, src, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("reading panel reply: %w", err)
		}

		if addr := src.Addr().Unmap(); addr.Is4() {
			panels[addr] = struct{}{}
		}
	}
}
