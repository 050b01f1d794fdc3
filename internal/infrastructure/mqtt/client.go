package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
)

// Logger is the logging surface used for handler errors and connection events.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives messages for a subscription.
//
// Handlers run on paho's delivery goroutine and must not block for long.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// hooks are the caller-supplied callbacks, swapped as a unit.
type hooks struct {
	logger       Logger
	onConnect    func()
	onDisconnect func(error)
}

// Client is a brewlogic connection to the broker. Its methods are safe for
// concurrent use and subscriptions are restored after a reconnect.
type Client struct {
	client    pahomqtt.Client
	cfg       config.MQTTConfig
	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	hookMu sync.RWMutex
	hooks  hooks
}

// Connect dials the broker and waits for the first CONNACK.
//
// The broker holds a retained offline status as the Last Will; a retained
// online status replaces it after every successful connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, subscriptions: make(map[string]subscription)}

	opts := buildClientOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if log := c.logger(); log != nil {
				log.Info("reconnecting to MQTT broker", "host", cfg.Broker.Host)
			}
		})
	configureLWT(opts, cfg.Broker.ClientID)

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs on its own goroutine and may not have fired yet.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) onConnected() {
	c.connected.Store(true)

	c.subMu.RLock()
	for pattern, sub := range c.subscriptions {
		c.client.Subscribe(pattern, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), c.DefaultQoS(), true, statusPayload(c.cfg.Broker.ClientID, "online", ""))

	if h := c.currentHooks(); h.onConnect != nil {
		h.onConnect()
	}
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)

	h := c.currentHooks()
	if h.logger != nil {
		h.logger.Warn("MQTT connection lost", "error", err)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

// Close replaces the Last Will with a graceful offline status and
// disconnects. It is a no-op on a nil or never-connected client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(Topics{}.SystemStatus(), c.DefaultQoS(), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown")).
			WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.connected.Load() && c.client.IsConnected()
}

// DefaultQoS returns the configured QoS level.
func (c *Client) DefaultQoS() byte {
	return byte(c.cfg.QoS)
}

// SetOnConnect sets a callback run after the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.updateHooks(func(h *hooks) { h.onConnect = fn })
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.updateHooks(func(h *hooks) { h.onDisconnect = fn })
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.updateHooks(func(h *hooks) { h.logger = logger })
}

func (c *Client) updateHooks(fn func(*hooks)) {
	c.hookMu.Lock()
	fn(&c.hooks)
	c.hookMu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.hooks
}

func (c *Client) logger() Logger {
	return c.currentHooks().logger
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		deliver(c.logger(), handler, msg.Topic(), msg.Payload())
	}
}

// deliver runs handler, logging a returned error or a panic.
func deliver(logger Logger, handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("MQTT handler panicked", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil && logger != nil {
		logger.Warn("MQTT handler failed", "topic", topic, "error", err)
	}
}
