package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/relayboard-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// Change is an accepted relay change as seen by sinks.
type Change struct {
	Item    relay.Item
	Bitmask relay.Bitmask

	// Source is relay.HistorySourceClient or relay.HistorySourceDiscovery.
	Source string
}

// Sink receives accepted changes after they are published. Sink errors are
// logged and never affect the mutation.
type Sink interface {
	Name() string
	RelayChanged(ctx context.Context, c Change) error
}

func (e *Engine) notifySinks(ctx context.Context, c Change) {
	for _, s := range e.sinks {
		if err := s.RelayChanged(ctx, c); err != nil {
			e.log().Warn("relay sink failed", "sink", s.Name(), "relay_id", c.Item.ID, "error", err)
		}
	}
}

// MQTTPublisher is satisfied by *mqtt.Client.
type MQTTPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// MQTTSink mirrors each changed relay as a retained JSON message.
type MQTTSink struct {
	pub MQTTPublisher
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub MQTTPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

// Name implements Sink.
func (*MQTTSink) Name() string { return "mqtt" }

// RelayChanged implements Sink.
func (s *MQTTSink) RelayChanged(_ context.Context, c Change) error {
	payload, err := json.Marshal(c.Item)
	if err != nil {
		return fmt.Errorf("marshalling relay: %w", err)
	}
	return s.pub.PublishRetained(mqtt.Topics{}.RelayState(c.Item.ID), payload)
}

// InfluxWriter is satisfied by *influxdb.Client.
type InfluxWriter interface {
	WriteRelayState(relayID int, on bool, bitmask uint16, at time.Time)
}

// InfluxSink records each change as a relay_state point.
type InfluxSink struct {
	w   InfluxWriter
	now func() time.Time
}

// NewInfluxSink creates a sink writing through w.
func NewInfluxSink(w InfluxWriter) *InfluxSink {
	return &InfluxSink{w: w, now: time.Now}
}

// Name implements Sink.
func (*InfluxSink) Name() string { return "influxdb" }

// RelayChanged implements Sink.
func (s *InfluxSink) RelayChanged(_ context.Context, c Change) error {
	at := c.Item.LastUpdated
	if c.Source == relay.HistorySourceDiscovery || at.IsZero() {
		at = s.now()
	}
	s.w.WriteRelayState(c.Item.ID, c.Item.State, uint16(c.Bitmask), at)
	return nil
}

// HistorySink appends each change to the state history.
type HistorySink struct {
	repo relay.HistoryRepository
}

// NewHistorySink creates a sink recording into repo.
func NewHistorySink(repo relay.HistoryRepository) *HistorySink {
	return &HistorySink{repo: repo}
}

// Name implements Sink.
func (*HistorySink) Name() string { return "history" }

// RelayChanged implements Sink.
func (s *HistorySink) RelayChanged(ctx context.Context, c Change) error {
	item := c.Item
	if c.Source == relay.HistorySourceDiscovery {
		// Stamped with the assignment time rather than the switch-on time.
		item.LastUpdated = time.Time{}
	}
	return s.repo.Record(ctx, item, c.Source)
}
