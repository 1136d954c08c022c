package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/relayboard-core/internal/events"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

var errDiskFull = errors.New("disk full")

// memStore records every saved table.
type memStore struct {
	mu    sync.Mutex
	saved []*relay.Table
	fail  error
}

func (s *memStore) Load() (*relay.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return relay.DefaultTable(relay.DefaultCount), nil
	}
	return s.saved[len(s.saved)-1].Clone(), nil
}

func (s *memStore) Save(t *relay.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saved = append(s.saved, t.Clone())
	return nil
}

func (s *memStore) last() (*relay.Table, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil, 0
	}
	return s.saved[len(s.saved)-1], len(s.saved)
}

// fakeBoard echoes pushes (optionally masked) and replays scripted scans.
type fakeBoard struct {
	addr netip.Addr

	mu       sync.Mutex
	pushes   []relay.Bitmask
	echoMask relay.Bitmask
	pushErr  error
	scans    []map[netip.Addr]struct{}
	scanned  int
	onScan   func(n int)
}

func newFakeBoard(addr string) *fakeBoard {
	return &fakeBoard{addr: netip.MustParseAddr(addr), echoMask: 0xFFFF}
}

func (b *fakeBoard) Addr() netip.Addr { return b.addr }

func (b *fakeBoard) PushRelayState(_ context.Context, mask relay.Bitmask) (relay.Bitmask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes = append(b.pushes, mask)
	if b.pushErr != nil {
		return 0, b.pushErr
	}
	return mask & b.echoMask, nil
}

func (b *fakeBoard) DiscoverPanels(_ context.Context) (map[netip.Addr]struct{}, error) {
	b.mu.Lock()
	n := b.scanned
	b.scanned++
	var scan map[netip.Addr]struct{}
	if n < len(b.scans) {
		scan = b.scans[n]
	}
	hook := b.onScan
	b.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if scan == nil {
		return map[netip.Addr]struct{}{}, nil
	}
	return scan, nil
}

func (b *fakeBoard) pushed() []relay.Bitmask {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]relay.Bitmask(nil), b.pushes...)
}

func addrSet(addrs ...string) map[netip.Addr]struct{} {
	set := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		set[netip.MustParseAddr(a)] = struct{}{}
	}
	return set
}

// fakeRegistry mirrors board.Registry semantics over fakeBoard.
type fakeRegistry struct {
	mu      sync.Mutex
	current *fakeBoard
	boards  map[netip.Addr]*fakeBoard
}

func (r *fakeRegistry) Current() (Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, false
	}
	return r.current, true
}

func (r *fakeRegistry) Register(addr netip.Addr) (Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return nil, fmt.Errorf("already registered at %s", r.current.addr)
	}
	b := r.boards[addr]
	if b == nil {
		b = &fakeBoard{addr: addr, echoMask: 0xFFFF}
	}
	r.current = b
	return b, nil
}

func (r *fakeRegistry) clear() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// recordingSink collects changes.
type recordingSink struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) RelayChanged(_ context.Context, c Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return s.err
}

func (s *recordingSink) all() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.changes...)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine   *Engine
	store    *memStore
	bus      *events.Bus
	registry *fakeRegistry
	board    *fakeBoard
	sink     *recordingSink
	clock    *fakeClock
}

// newHarness builds an engine over the default ten-relay table with a
// registered board at 10.8.32.50.
func newHarness(t testing.TB, cfg Config) *harness {
	t.Helper()
	return newHarnessWithTable(t, cfg, relay.DefaultTable(relay.DefaultCount))
}

func newHarnessWithTable(t testing.TB, cfg Config, table *relay.Table) *harness {
	t.Helper()

	h := &harness{
		store:    &memStore{},
		bus:      events.NewBus(events.DefaultBacklog),
		registry: &fakeRegistry{},
		board:    newFakeBoard("10.8.32.50"),
		sink:     &recordingSink{},
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.registry.current = h.board

	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ReconcileDelay == 0 {
		cfg.ReconcileDelay = time.Millisecond
	}

	e, err := New(Deps{
		Config:   cfg,
		Table:    table,
		Store:    h.store,
		Bus:      h.bus,
		Registry: h.registry,
		Sinks:    []Sink{h.sink},
		Now:      h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.engine = e
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
		h.bus.Close()
	})
	return h
}

// settle waits for every background task the engine has started.
func (h *harness) settle(t testing.TB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
