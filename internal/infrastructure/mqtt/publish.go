package mqtt

import "fmt"

// maxPayloadSize bounds a single publish (1MB).
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the QoS handshake.
//
// Parameters:
//   - topic: Concrete topic (e.g., "iot/command/node_7")
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for new subscribers
//
// Returns:
//   - error: nil on success, or a wrapped sentinel
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return waitToken(c.client.Publish(topic, qos, retained, payload), defaultOpTimeout, ErrPublishFailed)
}

// PublishCommand sends an actuator command to a node at exactly-once QoS.
//
// Example:
//
//	err := client.PublishCommand("node_7", []byte(`{"led":1}`))
func (c *Client) PublishCommand(deviceID string, payload []byte) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidTopic)
	}
	return c.Publish(c.topics.Command(deviceID), payload, 2, false)
}
