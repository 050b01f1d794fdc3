package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/brewlogic/internal/brew"
	"github.com/nerrad567/brewlogic/internal/infrastructure/mqtt"
)

const defaultQueueSize = 64

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the subset of the MQTT client the publisher needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// eventPayload is published to brewlogic/brew/event/{type} and to the
// mirror's event channel.
type eventPayload struct {
	Type      brew.EventType `json:"type"`
	RunID     string         `json:"run_id"`
	Recipe    string         `json:"recipe"`
	State     brew.RunState  `json:"state"`
	Timestamp string         `json:"timestamp"`
}

func newEventPayload(ev brew.Event) eventPayload {
	return eventPayload{
		Type:      ev.Type,
		RunID:     ev.State.RunID,
		Recipe:    ev.State.RecipeKey,
		State:     ev.State,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Publisher publishes run state and lifecycle events over MQTT.
//
// Messages are sent by a worker started with Run. The retained state topic
// always receives the newest snapshot; events are queued and, when the
// queue is full, dropped with a warning.
type Publisher struct {
	client MQTTClient
	qos    byte
	work   *dispatcher
	logger Logger
}

// NewPublisher creates a publisher. Call Run to start delivering.
func NewPublisher(client MQTTClient, qos byte) *Publisher {
	return &Publisher{
		client: client,
		qos:    qos,
		work:   newDispatcher(defaultQueueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Listen implements brew.Listener. Action progress only refreshes the
// retained state; every other transition also emits an event message.
func (p *Publisher) Listen(ev brew.Event) {
	p.PublishState(ev.State)
	if ev.Type == brew.EventActionStarted {
		return
	}

	payload, err := json.Marshal(newEventPayload(ev))
	if err != nil {
		p.logger.Error("marshalling brew event", "type", ev.Type, "error", err)
		return
	}
	topic := mqtt.Topics{}.BrewEvent(string(ev.Type))
	if ok, n := p.work.submit(func() { p.send(topic, payload, false) }); !ok {
		p.logger.Warn("status queue full, event dropped", "topic", topic, "dropped_total", n)
	}
}

// PublishState replaces the pending retained snapshot, e.g. with the idle
// state at startup.
func (p *Publisher) PublishState(st brew.RunState) {
	payload, err := json.Marshal(st)
	if err != nil {
		p.logger.Error("marshalling run state", "error", err)
		return
	}
	p.work.setState(func() { p.send(mqtt.Topics{}.RunState(), payload, true) })
}

// Dropped returns how many events were dropped because the queue was full.
func (p *Publisher) Dropped() int {
	return p.work.droppedCount()
}

// Run delivers messages until ctx is cancelled, then flushes what is
// still pending.
func (p *Publisher) Run(ctx context.Context) {
	p.work.run(ctx)
}

func (p *Publisher) send(topic string, payload []byte, retained bool) {
	if err := p.client.Publish(topic, payload, p.qos, retained); err != nil {
		p.logger.Warn("publishing brew status failed", "topic", topic, "error", err)
	}
}
