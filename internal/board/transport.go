package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/relayboard-core/internal/relay"
)

const (
	// maxBodySize caps how much of a board response is read.
	maxBodySize = 4096

	// udpBufferSize fits any panel reply.
	udpBufferSize = 1500

	defaultProbePath    = "/esp"
	defaultProbeTimeout = time.Second
	defaultPushTimeout  = 5 * time.Second
	defaultHTTPPort     = 80
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config describes where boards and panels live and how to talk to them.
type Config struct {
	// Subnet is the /24 swept by Discover and broadcast to by DiscoverPanels.
	Subnet netip.Prefix

	// HTTPPort is the board control port.
	HTTPPort int

	ProbePath    string
	ProbeTimeout time.Duration
	PushTimeout  time.Duration

	Panels PanelConfig
}

// PanelConfig controls the UDP panel scan.
type PanelConfig struct {
	// Broadcast overrides the scan destination. Zero means <subnet>.255:BroadcastPort.
	Broadcast netip.AddrPort

	BroadcastPort int

	// LocalPort is the source port panels reply to. Zero means 999;
	// EphemeralLocalPort lets the kernel choose.
	LocalPort    int
	Message      string
	ListenWindow time.Duration
	ReadSlice    time.Duration
}

// Transport performs the board and panel network protocols.
// It is safe for concurrent use.
type Transport struct {
	cfg    Config
	client *http.Client

	loggerMu sync.RWMutex
	logger   Logger

	// scan holds the panel socket. Receiving from it grants exclusive use
	// of the socket until it is sent back.
	scan chan *panelSocket
}

// NewTransport creates a Transport, filling unset fields with protocol defaults.
func NewTransport(cfg Config) *Transport {
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = defaultProbePath
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	cfg.Panels = withPanelDefaults(cfg.Panels, cfg.Subnet)

	t := &Transport{
		cfg: cfg,
		// Per-request deadlines come from contexts.
		client: &http.Client{},
		logger: noopLogger{},
		scan:   make(chan *panelSocket, 1),
	}
	t.scan <- &panelSocket{}
	return t
}

// SetLogger sets the logger used for discovery progress.
func (t *Transport) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

func (t *Transport) log() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

// Handle binds the transport to one board address.
func (t *Transport) Handle(addr netip.Addr) *Handle {
	return &Handle{addr: addr, transport: t}
}

// Discover probes every host .1 to .254 of the subnet concurrently with
// GET <ProbePath>. The first host to answer 2xx with a readable body wins;
// outstanding probes are cancelled and not waited for.
//
// Returns:
//   - netip.Addr: Address of the board
//   - error: ErrDiscoveryExhausted when no host answered, or the context error
func (t *Transport) Discover(ctx context.Context) (netip.Addr, error) {
	if !t.cfg.Subnet.IsValid() || !t.cfg.Subnet.Addr().Is4() {
		return netip.Addr{}, fmt.Errorf("board: discovery needs an IPv4 subnet, got %v", t.cfg.Subnet)
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(probeCtx)
	found := make(chan netip.Addr, 1)

	base := t.cfg.Subnet.Masked().Addr().As4()
	for host := 1; host <= 254; host++ {
		octets := base
		octets[3] = byte(host)
		addr := netip.AddrFrom4(octets)

		g.Go(func() error {
			if !t.probe(gctx, addr) {
				return nil
			}
			select {
			case found <- addr:
				cancel()
			default:
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait() //nolint:errcheck // Probes never return errors
		close(done)
	}()

	select {
	case addr := <-found:
		return addr, nil
	case <-done:
		select {
		case addr := <-found:
			return addr, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return netip.Addr{}, err
		}
		return netip.Addr{}, ErrDiscoveryExhausted
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	}
}

// probe reports whether addr answers the liveness endpoint.
func (t *Transport) probe(ctx context.Context, addr netip.Addr) bool {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url(addr, t.cfg.ProbePath), nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	_, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	return err == nil
}

// Backoff bounds the wait between discovery sweeps.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DiscoverWithRetry repeats Discover, doubling the wait after each empty
// sweep up to b.Max, until a board answers or ctx is done. Errors other
// than ErrDiscoveryExhausted are returned immediately.
func (t *Transport) DiscoverWithRetry(ctx context.Context, b Backoff) (netip.Addr, error) {
	wait := b.Initial
	if wait <= 0 {
		wait = time.Second
	}

	for attempt := 1; ; attempt++ {
		addr, err := t.Discover(ctx)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, ErrDiscoveryExhausted) {
			return netip.Addr{}, err
		}

		t.log().Warn("no relay board found, retrying",
			"subnet", t.cfg.Subnet.String(),
			"attempt", attempt,
			"backoff", wait.String(),
		)

		select {
		case <-ctx.Done():
			return netip.Addr{}, ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
	}
}

func (t *Transport) url(addr netip.Addr, path string) string {
	host := addr.String()
	if t.cfg.HTTPPort != defaultHTTPPort {
		host = net.JoinHostPort(host, strconv.Itoa(t.cfg.HTTPPort))
	}
	return "http://" + host + path
}

// Handle is the transport bound to a known board.
type Handle struct {
	addr      netip.Addr
	transport *Transport
}

// Addr returns the board address.
func (h *Handle) Addr() netip.Addr {
	return h.addr
}

// PushRelayState sends mask to the board and returns the mask it reports
// as applied. Any network failure, non-2xx status or malformed reply is a
// *TransportError.
func (h *Handle) PushRelayState(ctx context.Context, mask relay.Bitmask) (relay.Bitmask, error) {
	t := h.transport
	ctx, cancel := context.WithTimeout(ctx, t.cfg.PushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(h.addr, "/set"), strings.NewReader(mask.String()))
	if err != nil {
		return 0, h.fail(err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, h.fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, h.fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, h.fail(fmt.Errorf("reading response: %w", err))
	}

	echoed, err := relay.ParseBitmask(string(body))
	if err != nil {
		return 0, h.fail(err)
	}
	return echoed, nil
}

// DiscoverPanels runs a panel scan on the board's subnet.
func (h *Handle) DiscoverPanels(ctx context.Context) (map[netip.Addr]struct{}, error) {
	return h.transport.DiscoverPanels(ctx)
}

func (h *Handle) fail(err error) error {
	return &TransportError{Op: "push", Addr: h.addr, Err: err}
}
