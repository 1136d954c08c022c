package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every topic this service uses.
const TopicPrefix = "relayboard"

// Topics provides builders for relayboard MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.RelayState(3) // "relayboard/state/relay/3"
type Topics struct{}

// RelayState returns the retained state topic for a relay.
func (Topics) RelayState(id int) string {
	return fmt.Sprintf("%s/state/relay/%d", TopicPrefix, id)
}

// RelayCommand returns the command topic for a relay.
func (Topics) RelayCommand(id int) string {
	return fmt.Sprintf("%s/command/relay/%d", TopicPrefix, id)
}

// AllRelayCommands returns a wildcard matching every relay command topic.
func (Topics) AllRelayCommands() string {
	return TopicPrefix + "/command/relay/+"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseRelayTopic extracts the relay id from a state or command topic.
//
// Returns:
//   - kind: "state" or "command"
//   - id: Relay id
//   - error: ErrInvalidTopic if the topic is not a relay topic
func ParseRelayTopic(topic string) (kind string, id int, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != "relay" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if parts[1] != "state" && parts[1] != "command" {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	id, err = strconv.Atoi(parts[3])
	if err != nil || id < 1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return parts[1], id, nil
}
