package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/relayboard-core/internal/relay"
)

// DefaultBacklog is the number of undelivered events a subscriber may hold.
const DefaultBacklog = 16

// ChangeEvent carries the state of a relay after an accepted mutation.
type ChangeEvent struct {
	UpdatedItem relay.Item `json:"updated_item"`
}

// Bus broadcasts ChangeEvents to every current subscriber.
// It is safe for concurrent use.
type Bus struct {
	backlog int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	done   chan struct{}
}

// NewBus creates a bus whose subscribers buffer up to backlog events.
// A non-positive backlog means DefaultBacklog.
func NewBus(backlog int) *Bus {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Bus{
		backlog: backlog,
		subs:    make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
}

// Publish delivers ev to every subscriber. With no subscribers the event is
// dropped. Publish never blocks.
func (b *Bus) Publish(ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.lagged.Store(true)
		}
	}
}

// Subscribe registers a new subscriber. It receives only events published
// after this call.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:  b,
		ch:   make(chan ChangeEvent, b.backlog),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.closeOnce.Do(func() { close(s.done) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down. Every pending and future receive returns ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	b.subs = make(map[*Subscription]struct{})
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus    *Bus
	ch     chan ChangeEvent
	lagged atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// Next waits for the next event.
//
// Parameters:
//   - ctx: Cancels the wait
//   - timeout: Maximum wait; zero or negative waits until ctx is done
//
// Returns:
//   - ChangeEvent: The next event in publish order
//   - error: ErrLagged, ErrClosed, ErrTimeout or the context error
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (ChangeEvent, error) {
	if s.isClosed() {
		return ChangeEvent{}, ErrClosed
	}
	if s.lagged.Swap(false) {
		s.drain()
		return ChangeEvent{}, ErrLagged
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.bus.done:
		return ChangeEvent{}, ErrClosed
	case <-s.done:
		return ChangeEvent{}, ErrClosed
	case <-expired:
		return ChangeEvent{}, ErrTimeout
	case <-ctx.Done():
		return ChangeEvent{}, ctx.Err()
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.done:
		return true
	case <-s.bus.done:
		return true
	default:
		return false
	}
}

// drain discards the backlog left over from before a lag.
func (s *Subscription) drain() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}
