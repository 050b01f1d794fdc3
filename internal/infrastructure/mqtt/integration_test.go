//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
)

// Requires a Mosquitto broker at 127.0.0.1:1883.
func integrationConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "brewlogic-integration",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestIntegration_RetainedStateRoundtrip(t *testing.T) {
	client, err := Connect(integrationConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.SetLogger(&recordingLogger{})

	topic := Topics{}.EntityState("itest", "switch.start")
	if err := client.PublishRetained(topic, []byte(`{"state":"off"}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	received := make(chan string, 1)
	err = client.Subscribe(Topics{}.BridgeStates("itest"), 1, func(_ string, payload []byte) error {
		select {
		case received <- string(payload):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.BridgeStates("itest")) {
		t.Error("subscription not tracked")
	}

	select {
	case got := <-received:
		if got != `{"state":"off"}` {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained state not delivered")
	}

	if err := client.Unsubscribe(Topics{}.BridgeStates("itest")); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	// Clear the retained message.
	_ = client.Publish(topic, nil, 1, true)
}
