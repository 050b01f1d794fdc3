package mqtt

import "errors"

// Sentinel errors; match with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: broker link is down")
	ErrConnectionFailed  = errors.New("mqtt: could not reach broker")
	ErrPublishFailed     = errors.New("mqtt: publish rejected")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe rejected")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe rejected")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
