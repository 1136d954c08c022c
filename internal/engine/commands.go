package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/relayboard-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// MQTTSubscriber is satisfied by *mqtt.Client.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// relayCommand is the payload of relayboard/command/relay/{id}.
type relayCommand struct {
	Name  string `json:"name"`
	IPv4  string `json:"ipv4"`
	State *bool  `json:"state"`
}

// SubscribeCommands routes MQTT relay commands into Apply.
func (e *Engine) SubscribeCommands(sub MQTTSubscriber, qos byte) error {
	return sub.Subscribe(mqtt.Topics{}.AllRelayCommands(), qos, e.HandleCommand)
}

// HandleCommand applies one MQTT relay command. Debounced commands are
// dropped silently; the relay id comes from the topic.
func (e *Engine) HandleCommand(topic string, payload []byte) error {
	kind, id, err := mqtt.ParseRelayTopic(topic)
	if err != nil {
		return err
	}
	if kind != "command" {
		return fmt.Errorf("%w: %s is not a command topic", ErrInvalidCommand, topic)
	}

	var cmd relayCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.State == nil {
		return fmt.Errorf("%w: state is required", ErrInvalidCommand)
	}

	outcome, err := e.Apply(e.ctx, relay.Item{
		ID:    id,
		Name:  cmd.Name,
		IPv4:  cmd.IPv4,
		State: *cmd.State,
	})
	if err != nil && !errors.Is(err, ErrPersist) {
		return err
	}
	e.log().Debug("mqtt relay command", "relay_id", id, "outcome", outcome.Status.String())
	return err
}
