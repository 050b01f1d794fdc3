package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/brewlogic/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of the MQTT client the gateway needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// readyPollInterval is how often WaitReady re-checks the state mirror.
const readyPollInterval = 50 * time.Millisecond

// statePayload is the bridge's retained state message.
// A bare value such as "on" is accepted as well.
type statePayload struct {
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
}

// commandPayload is published to an entity's command topic.
type commandPayload struct {
	ID        string `json:"id"`
	EntityID  string `json:"entity_id"`
	State     string `json:"state"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// MQTT is a Gateway backed by an appliance bridge on the MQTT bus.
//
// It mirrors every retained entity state under the bridge's state subtree
// and fans changes out to local subscribers. Commands are published
// without retain; the resulting state arrives on the state topic.
type MQTT struct {
	dispatcher

	client MQTTClient
	bridge string
	qos    byte
	logger Logger

	mu     sync.RWMutex
	states map[string]State
	now    func() time.Time
}

// NewMQTT creates a gateway for bridge. Call Start before use.
func NewMQTT(client MQTTClient, bridge string, qos byte) *MQTT {
	return &MQTT{
		client: client,
		bridge: bridge,
		qos:    qos,
		logger: noopLogger{},
		states: make(map[string]State),
		now:    time.Now,
	}
}

// SetLogger sets the logger for the gateway.
func (g *MQTT) SetLogger(logger Logger) {
	g.logger = logger
}

// Start subscribes to the bridge's state subtree. Retained states are
// replayed by the broker straight after.
func (g *MQTT) Start(_ context.Context) error {
	topic := mqtt.Topics{}.BridgeStates(g.bridge)
	if err := g.client.Subscribe(topic, g.qos, g.handleState); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	g.logger.Info("gateway mirroring bridge states", "bridge", g.bridge, "topic", topic)
	return nil
}

// Stop releases the bridge subscription.
func (g *MQTT) Stop() error {
	return g.client.Unsubscribe(mqtt.Topics{}.BridgeStates(g.bridge))
}

// WaitReady blocks until every entity in ids has reported a state.
func (g *MQTT) WaitReady(ctx context.Context, ids []string) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		missing := g.missing(ids)
		if len(missing) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrNotReady, strings.Join(missing, ", "))
		case <-ticker.C:
		}
	}
}

func (g *MQTT) missing(ids []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := g.states[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// handleState is the MQTT handler for brewlogic/state/{bridge}/{entity_id}.
func (g *MQTT) handleState(topic string, payload []byte) error {
	_, entityID, ok := mqtt.Topics{}.EntityFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidPayload, topic)
	}

	// An empty retained message clears the entity.
	if len(bytes.TrimSpace(payload)) == 0 {
		g.mu.Lock()
		delete(g.states, entityID)
		g.mu.Unlock()
		g.logger.Debug("entity cleared", "entity", entityID)
		return nil
	}

	next, err := parseStatePayload(entityID, payload, g.now())
	if err != nil {
		return err
	}

	g.mu.Lock()
	prev, existed := g.states[entityID]
	g.states[entityID] = next
	g.mu.Unlock()

	change := StateChange{EntityID: entityID, New: next.Clone()}
	if existed {
		old := prev
		change.Old = &old
	}
	g.notify(change)
	return nil
}

func parseStatePayload(entityID string, payload []byte, now time.Time) (State, error) {
	trimmed := bytes.TrimSpace(payload)
	st := State{EntityID: entityID, UpdatedAt: now}

	if trimmed[0] != '{' {
		st.Value = strings.Trim(string(trimmed), `"`)
		return st, nil
	}

	var msg statePayload
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return State{}, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, entityID, err)
	}
	st.Value = msg.State
	st.Attributes = msg.Attributes
	if msg.LastUpdated != nil {
		st.UpdatedAt = *msg.LastUpdated
	}
	return st, nil
}

// GetState implements Gateway.
func (g *MQTT) GetState(ctx context.Context, entityID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.states[entityID]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return st.Clone(), nil
}

// SetState implements Gateway.
func (g *MQTT) SetState(ctx context.Context, entityID, value string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	g.mu.RLock()
	_, ok := g.states[entityID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}

	cmd := commandPayload{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		State:     value,
		Source:    "brewlogic",
		Timestamp: g.now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	topic := mqtt.Topics{}.EntityCommand(g.bridge, entityID)
	if err := g.client.Publish(topic, payload, g.qos, false); err != nil {
		return fmt.Errorf("%w: publishing to %q: %w", ErrCommandFailed, topic, err)
	}

	g.logger.Debug("entity command published", "entity", entityID, "value", value, "command_id", cmd.ID)
	return nil
}

// Subscribe implements Gateway.
func (g *MQTT) Subscribe(entityID string, handler Handler) (Subscription, error) {
	return g.subscribe(entityID, handler)
}

// Unsubscribe implements Gateway.
func (g *MQTT) Unsubscribe(sub Subscription) {
	g.unsubscribe(sub)
}
