package broker

import "errors"

// Domain-specific errors for direct broker operations.
// Use errors.Is() to check for these errors in calling code. Operations on a
// disconnected channel return errors wrapping connection.ErrNotConnected.
var (
	// ErrPublishFailed is returned when the broker rejects a publish.
	ErrPublishFailed = errors.New("broker: publish failed")

	// ErrSubscribeFailed is returned when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("broker: subscribe failed")

	// ErrUnsubscribeFailed is returned when the broker rejects an unsubscribe.
	ErrUnsubscribeFailed = errors.New("broker: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("broker: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("broker: invalid topic")

	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("broker: operation timed out")

	// ErrDecode is returned by DecodePayload for payloads that are not JSON.
	ErrDecode = errors.New("broker: payload is not valid JSON")
)
