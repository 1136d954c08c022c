package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/nerrad567/relayboard-core/internal/board"
	"github.com/nerrad567/relayboard-core/internal/events"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// Default timings.
const (
	DefaultDebounce       = 2 * time.Second
	DefaultReconcileDelay = 45 * time.Second
	DefaultDeviceTag      = "relayBoard"
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

// Config holds the mutation policy.
type Config struct {
	// Debounce is the minimum time between accepted mutations of one relay.
	Debounce time.Duration

	// ReconcileDelay is the wait between the two panel scans.
	ReconcileDelay time.Duration

	// SyncPersist makes Apply wait for the state file write, after the
	// table lock is released, and report failures as ErrPersist.
	SyncPersist bool

	// DeviceTag is the device value Register accepts.
	DeviceTag string
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Config   Config
	Table    *relay.Table
	Store    relay.Store
	Bus      *events.Bus
	Registry Registry
	Sinks    []Sink

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Status is the result kind of Apply.
type Status int

// Apply results.
const (
	StatusApplied Status = iota
	StatusDebounced
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusDebounced:
		return "debounced"
	case StatusNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports what Apply did and the relay as it now stands.
type Outcome struct {
	Status Status
	Item   relay.Item
}

// SyncResult describes one push of the table to the board.
type SyncResult struct {
	Board     netip.Addr
	Requested relay.Bitmask
	Echoed    relay.Bitmask

	// Matched is false when the board applied a different mask than requested.
	Matched bool
}

// Engine serialises relay mutations and fans their effects out.
// It is safe for concurrent use.
type Engine struct {
	cfg      Config
	store    relay.Store
	bus      *events.Bus
	registry Registry
	sinks    []Sink
	now      func() time.Time

	loggerMu sync.RWMutex
	logger   Logger

	mu      sync.Mutex
	table   *relay.Table
	version uint64

	persistMu sync.Mutex
	persisted uint64

	pushMu sync.Mutex

	bgMu    sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an Engine that owns deps.Table.
func New(deps Deps) (*Engine, error) {
	if deps.Table == nil {
		return nil, fmt.Errorf("engine: table is required")
	}
	if err := deps.Table.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Bus == nil || deps.Registry == nil {
		return nil, fmt.Errorf("engine: store, bus and registry are required")
	}

	cfg := deps.Config
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.ReconcileDelay <= 0 {
		cfg.ReconcileDelay = DefaultReconcileDelay
	}
	if cfg.DeviceTag == "" {
		cfg.DeviceTag = DefaultDeviceTag
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		bus:      deps.Bus,
		registry: deps.Registry,
		sinks:    deps.Sinks,
		now:      now,
		logger:   noopLogger{},
		table:    deps.Table.Clone(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) log() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// Apply submits a client mutation for relay candidate.ID.
//
// A mutation arriving within the debounce window of the relay's last
// accepted mutation is ignored. An accepted "on" takes the candidate's
// name and address; an accepted "off" resets both to their sentinels.
//
// Returns:
//   - Outcome: Applied, Debounced or NotFound, with the current relay
//   - error: ErrNotFound, or ErrPersist when SyncPersist is set and the
//     write failed (the change stays applied in memory)
func (e *Engine) Apply(ctx context.Context, candidate relay.Item) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	e.mu.Lock()
	idx := e.table.Index(candidate.ID)
	if idx < 0 {
		e.mu.Unlock()
		return Outcome{Status: StatusNotFound}, fmt.Errorf("%w: %d", ErrNotFound, candidate.ID)
	}

	current := e.table.Relays[idx]
	now := e.now()
	if e.debounced(current, now) {
		e.mu.Unlock()
		e.log().Debug("relay mutation debounced", "relay_id", current.ID)
		return Outcome{Status: StatusDebounced, Item: current}, nil
	}

	updated := current
	updated.State = candidate.State
	updated.LastUpdated = now
	if candidate.State {
		updated.Name = candidate.Name
		updated.IPv4 = candidate.IPv4
	} else {
		updated.Name = relay.InactiveName
		updated.IPv4 = relay.UnassignedIPv4
	}
	e.table.Relays[idx] = updated

	version, snapshot := e.snapshotLocked()
	e.mu.Unlock()

	persistErr := e.commit(version, snapshot, e.cfg.SyncPersist)
	e.publish(updated, snapshot.Bitmask(), relay.HistorySourceClient)
	e.goPush("mutation")

	if updated.State {
		id := updated.ID
		e.goBackground(func(ctx context.Context) {
			if _, err := e.ReconcilePanelDiscovery(ctx, id); err != nil {
				e.log().Debug("panel reconciliation stopped", "relay_id", id, "error", err)
			}
		})
	}

	return Outcome{Status: StatusApplied, Item: updated}, persistErr
}

// debounced reports whether a mutation at now falls inside the window of
// current's last accepted mutation. A clock that moved backwards also
// counts as inside the window.
func (e *Engine) debounced(current relay.Item, now time.Time) bool {
	if current.LastUpdated.IsZero() {
		return false
	}
	elapsed := now.Sub(current.LastUpdated)
	if elapsed < 0 {
		e.log().Warn("clock moved backwards, ignoring mutation", "relay_id", current.ID)
		return true
	}
	return elapsed <= e.cfg.Debounce
}

// snapshotLocked bumps the table version and returns a copy. e.mu must be held.
func (e *Engine) snapshotLocked() (uint64, *relay.Table) {
	e.version++
	return e.version, e.table.Clone()
}

// commit persists snapshot, inline when wait is true or on a tracked
// goroutine otherwise.
func (e *Engine) commit(version uint64, snapshot *relay.Table, wait bool) error {
	if wait {
		return e.persist(version, snapshot)
	}

	started := e.goBackground(func(context.Context) {
		if err := e.persist(version, snapshot); err != nil {
			e.log().Error("persisting relay table failed", "error", err)
		}
	})
	if !started {
		return e.persist(version, snapshot)
	}
	return nil
}

// persist writes snapshot unless a newer version is already on disk.
func (e *Engine) persist(version uint64, snapshot *relay.Table) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if version <= e.persisted {
		return nil
	}
	if err := e.store.Save(snapshot); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	e.persisted = version
	return nil
}

// publish emits the change event and hands the change to the sinks.
func (e *Engine) publish(item relay.Item, mask relay.Bitmask, source string) {
	e.bus.Publish(events.ChangeEvent{UpdatedItem: item})

	if len(e.sinks) == 0 {
		return
	}
	change := Change{Item: item, Bitmask: mask, Source: source}
	e.goBackground(func(ctx context.Context) {
		e.notifySinks(ctx, change)
	})
}

// Snapshot returns a copy of every relay in table order.
func (e *Engine) Snapshot() []relay.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Clone().Relays
}

// Table returns a copy of the whole table.
func (e *Engine) Table() *relay.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Clone()
}

// Item returns a copy of one relay.
func (e *Engine) Item(id int) (relay.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Find(id)
}

// Bitmask returns the board encoding of the current table.
func (e *Engine) Bitmask() relay.Bitmask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Bitmask()
}

// Board returns the registered board, if any.
func (e *Engine) Board() (Board, bool) {
	return e.registry.Current()
}

// Register validates a board announcement, records the board and pushes
// the current table to it in the background.
//
// Returns:
//   - netip.Addr: The registered address
//   - error: board.ErrInvalidDevice, board.ErrInvalidAddress or
//     board.ErrAlreadyRegistered
func (e *Engine) Register(_ context.Context, reg board.Registration) (netip.Addr, error) {
	addr, err := board.ParseRegistration(reg, e.cfg.DeviceTag)
	if err != nil {
		return netip.Addr{}, err
	}
	if err := e.Adopt(addr); err != nil {
		return netip.Addr{}, err
	}
	return addr, nil
}

// Adopt registers a board found by discovery or pinned in configuration
// and pushes the current table to it in the background.
func (e *Engine) Adopt(addr netip.Addr) error {
	if _, err := e.registry.Register(addr); err != nil {
		return err
	}
	e.log().Info("relay board registered", "address", addr.String())
	e.goPush("registration")
	return nil
}

// SyncBoard pushes the current table to the board and reports what the
// board applied. A mismatch is logged as a partial application.
func (e *Engine) SyncBoard(ctx context.Context) (SyncResult, error) {
	b, ok := e.registry.Current()
	if !ok {
		return SyncResult{}, ErrNoBoard
	}

	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	requested := e.Bitmask()
	result := SyncResult{Board: b.Addr(), Requested: requested}

	echoed, err := b.PushRelayState(ctx, requested)
	if err != nil {
		return result, err
	}
	result.Echoed = echoed
	result.Matched = echoed == requested

	if !result.Matched {
		e.log().Warn("board applied a different relay state",
			"board", result.Board.String(),
			"requested", requested.String(),
			"echoed", echoed.String(),
			"relays", requested.Diff(echoed),
		)
	}
	return result, nil
}

// goPush syncs the board in the background. Failures are logged only.
func (e *Engine) goPush(reason string) {
	e.goBackground(func(ctx context.Context) {
		_, err := e.SyncBoard(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoBoard):
			e.log().Debug("no relay board registered, skipping push", "reason", reason)
		default:
			e.log().Warn("pushing relay state to board failed", "reason", reason, "error", err)
		}
	})
}

// goBackground runs fn on a goroutine that Shutdown waits for. It returns
// false without running fn once Shutdown has started.
func (e *Engine) goBackground(fn func(ctx context.Context)) bool {
	e.bgMu.Lock()
	if e.closing {
		e.bgMu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.bgMu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

// Shutdown cancels reconciliations and pushes in flight, then waits for
// every background task, including pending state file writes, to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.bgMu.Lock()
	e.closing = true
	e.bgMu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}
