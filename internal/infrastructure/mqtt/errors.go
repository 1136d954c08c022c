package mqtt

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic covers empty topics and topics outside the
	// relayboard/{state,command}/relay/{id} scheme.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
