package mqtt

import "fmt"

// maxPayloadSize caps a single message at 1MB, in line with common
// broker defaults. Topology snapshots and speaker state stay far
// below this.
const maxPayloadSize = 1 << 20

// Publish sends one message and waits (bounded) for the broker's
// acknowledgement at the requested QoS.
//
// Retained messages are used for state topics (speaker state,
// connection, topology, system status) so a late subscriber sees the
// current value immediately; events use retained=false.
//
// Parameters:
//   - topic: Destination, normally from a Topics builder
//   - payload: Message body, JSON by convention
//   - qos: 0, 1, or 2
//   - retained: Whether the broker keeps the last value
//
// Returns:
//   - error: Validation sentinel, ErrNotConnected, or a wrapped
//     ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured
// default QoS. The state-topic fast path.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
