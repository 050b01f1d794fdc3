package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing payloads at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
//
// Entity and run state are published retained; commands and events never are.
//
//	topic := mqtt.Topics{}.EntityCommand("coffee", "switch.coffee_machine_start")
//	err := client.Publish(topic, []byte(`{"state":"on"}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload, limit %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if err := c.ready(topic, qos); err != nil {
		return err
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.DefaultQoS(), true)
}

// Subscribe routes messages matching pattern to handler.
//
// The broker replays retained messages straight after the subscription is
// acknowledged, which is how the entity mirror is seeded. Subscriptions
// survive reconnects.
func (c *Client) Subscribe(pattern string, qos byte, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if err := c.ready(pattern, qos); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subscriptions[pattern] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(pattern, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(pattern)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription for pattern. Messages already in
// flight may still arrive.
func (c *Client) Unsubscribe(pattern string) error {
	if err := c.ready(pattern, 0); err != nil {
		return err
	}
	c.forget(pattern)
	return await(c.client.Unsubscribe(pattern), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether pattern is subscribed.
func (c *Client) HasSubscription(pattern string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[pattern]
	return ok
}

func (c *Client) forget(pattern string) {
	c.subMu.Lock()
	delete(c.subscriptions, pattern)
	c.subMu.Unlock()
}

// ready validates arguments before checking the link, so bad input is
// reported the same way whether or not the broker is up.
func (c *Client) ready(topic string, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case !c.IsConnected():
		return ErrNotConnected
	}
	return nil
}

// await blocks on a paho token and wraps any failure in kind.
func await(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no broker ack within %v", kind, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
