package mqtt

import (
	"fmt"

	"github.com/nerrad567/labdash/internal/topic"
)

// Subscribe registers handler for filter (wildcards allowed) and tracks it
// for restoration after reconnect. A failed SUBACK forgets the filter again.
//
//	err := client.Subscribe(client.Topics().Data(), 1,
//	    func(topic string, payload []byte) error {
//	        return ingest(payload)
//	    })
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := topic.Validate(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(filter, &subscription{qos: qos, handler: handler})
	err := waitToken(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), defaultOpTimeout, ErrSubscribeFailed)
	if err != nil {
		c.track(filter, nil)
	}
	return err
}

// Unsubscribe removes filter. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(filter, nil)
	return waitToken(c.client.Unsubscribe(filter), defaultOpTimeout, ErrUnsubscribeFailed)
}

// track records sub for filter, or forgets filter when sub is nil.
func (c *Client) track(filter string, sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub == nil {
		delete(c.subscriptions, filter)
		return
	}
	c.subscriptions[filter] = *sub
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether filter is tracked (exact match).
func (c *Client) HasSubscription(filter string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[filter]
	return ok
}
