package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/brewlogic/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type mockClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
	failPub   error
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *mockClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *mockClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	return nil
}

func (c *mockClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPub != nil {
		return c.failPub
	}
	c.published = append(c.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

// deliver simulates the broker delivering a message on a state topic.
func (c *mockClient) deliver(t *testing.T, bridge, entityID, payload string) error {
	t.Helper()
	c.mu.Lock()
	h := c.handlers[mqtt.Topics{}.BridgeStates(bridge)]
	c.mu.Unlock()
	if h == nil {
		t.Fatal("bridge states not subscribed")
	}
	return h(mqtt.Topics{}.EntityState(bridge, entityID), []byte(payload))
}

func startedGateway(t *testing.T) (*MQTT, *mockClient) {
	t.Helper()
	client := newMockClient()
	g := NewMQTT(client, "coffee", 1)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return g, client
}

func TestMQTT_MirrorsStates(t *testing.T) {
	g, client := startedGateway(t)
	ctx := context.Background()

	if _, err := g.GetState(ctx, "select.drink"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetState before report error = %v", err)
	}

	err := client.deliver(t, "coffee", "select.drink",
		`{"state":"Espresso","attributes":{"friendly_name":"Drink","options":["Espresso","Americano"]}}`)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := client.deliver(t, "coffee", "switch.start", "off"); err != nil {
		t.Fatalf("deliver bare value: %v", err)
	}

	st, err := g.GetState(ctx, "select.drink")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	opts, _ := st.Options()
	if st.Value != "Espresso" || len(opts) != 2 {
		t.Errorf("select state = %+v", st)
	}
	if st, _ := g.GetState(ctx, "switch.start"); st.Value != StateOff {
		t.Errorf("switch.start = %q, want off", st.Value)
	}
}

func TestMQTT_NotifiesSubscribers(t *testing.T) {
	g, client := startedGateway(t)

	rec := &changeRecorder{}
	sub, err := g.Subscribe("switch.start", rec.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	_ = client.deliver(t, "coffee", "switch.start", `{"state":"off"}`)
	_ = client.deliver(t, "coffee", "switch.start", `{"state":"on"}`)
	_ = client.deliver(t, "coffee", "switch.other", `{"state":"on"}`)

	got := rec.values()
	if len(got) != 2 || got[0] != StateOff || got[1] != StateOn {
		t.Errorf("changes = %v, want [off on]", got)
	}
	if rec.changes[0].Old != nil {
		t.Error("first report should have no old state")
	}
	if rec.changes[1].Old == nil || rec.changes[1].Old.Value != StateOff {
		t.Errorf("second report old = %+v", rec.changes[1].Old)
	}

	g.Unsubscribe(sub)
	_ = client.deliver(t, "coffee", "switch.start", `{"state":"off"}`)
	if len(rec.values()) != 2 {
		t.Error("handler called after unsubscribe")
	}
}

func TestMQTT_InvalidPayload(t *testing.T) {
	g, client := startedGateway(t)

	if err := client.deliver(t, "coffee", "switch.start", `{"state":`); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("deliver error = %v, want ErrInvalidPayload", err)
	}
	if _, err := g.GetState(context.Background(), "switch.start"); !errors.Is(err, ErrEntityNotFound) {
		t.Error("invalid payload must not create state")
	}
}

func TestMQTT_EmptyPayloadClears(t *testing.T) {
	g, client := startedGateway(t)

	_ = client.deliver(t, "coffee", "switch.start", "off")
	_ = client.deliver(t, "coffee", "switch.start", "")

	if _, err := g.GetState(context.Background(), "switch.start"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetState() error = %v, want ErrEntityNotFound", err)
	}
}

func TestMQTT_SetStatePublishesCommand(t *testing.T) {
	g, client := startedGateway(t)
	ctx := context.Background()

	if err := g.SetState(ctx, "switch.start", StateOn); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("SetState(unknown) error = %v", err)
	}

	_ = client.deliver(t, "coffee", "switch.start", "off")
	if err := g.SetState(ctx, "switch.start", StateOn); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "brewlogic/command/coffee/switch.start" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.retained {
		t.Error("commands must not be retained")
	}
	var cmd commandPayload
	if err := json.Unmarshal(msg.payload, &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.EntityID != "switch.start" || cmd.State != StateOn || cmd.ID == "" || cmd.Source != "brewlogic" {
		t.Errorf("command = %+v", cmd)
	}
}

func TestMQTT_SetStatePublishFailure(t *testing.T) {
	g, client := startedGateway(t)
	_ = client.deliver(t, "coffee", "switch.start", "off")
	client.failPub = mqtt.ErrNotConnected

	err := g.SetState(context.Background(), "switch.start", StateOn)
	if !errors.Is(err, ErrCommandFailed) || !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("SetState() error = %v, want ErrCommandFailed wrapping ErrNotConnected", err)
	}
}

func TestMQTT_WaitReady(t *testing.T) {
	g, client := startedGateway(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = client.deliver(t, "coffee", "switch.start", "off")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.WaitReady(ctx, []string{"switch.start"}); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancelShort()
	if err := g.WaitReady(short, []string{"switch.start", "select.drink"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("WaitReady(missing) error = %v, want ErrNotReady", err)
	}
}

func TestMQTT_Stop(t *testing.T) {
	g, client := startedGateway(t)
	if err := g.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.handlers) != 0 {
		t.Error("bridge subscription not released")
	}
}
