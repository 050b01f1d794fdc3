package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/brewlogic/internal/infrastructure/mqtt"
)

// Urgency ranks how prominently a notification should be shown.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Kind identifies what happened to the run.
type Kind string

const (
	KindPaused    Kind = "paused"
	KindResumed   Kind = "resumed"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindAborted   Kind = "aborted"
)

// Notification is one message for the user.
type Notification struct {
	Kind      Kind    `json:"kind"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Urgency   Urgency `json:"urgency"`
	RecipeKey string  `json:"recipe_key,omitempty"`
	RunID     string  `json:"run_id,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ErrNotConnected is returned when the transport is unavailable.
var ErrNotConnected = errors.New("notify: transport not connected")

// MQTTClient is the subset of the MQTT client used for notifications.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// MQTTNotifier publishes notifications to brewlogic/ui/{target}/notification.
type MQTTNotifier struct {
	client MQTTClient
	target string
	qos    byte
	now    func() time.Time
}

// NewMQTTNotifier creates a notifier for the given UI target ("all" reaches
// every panel).
func NewMQTTNotifier(client MQTTClient, target string, qos byte) *MQTTNotifier {
	if target == "" {
		target = "all"
	}
	return &MQTTNotifier{client: client, target: target, qos: qos, now: time.Now}
}

type notificationPayload struct {
	Notification
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// Notify implements Notifier.
func (n *MQTTNotifier) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.client == nil || !n.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(notificationPayload{
		Notification: note,
		Source:       "brewlogic",
		Timestamp:    n.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}

	topic := mqtt.Topics{}.UINotification(n.target)
	if err := n.client.Publish(topic, payload, n.qos, false); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Logger is the logging interface used by LogNotifier.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// LogNotifier writes notifications to a logger. High urgency logs at warn.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	args := []any{
		"kind", note.Kind,
		"title", note.Title,
		"message", note.Message,
		"recipe", note.RecipeKey,
	}
	if note.Urgency == UrgencyHigh {
		n.logger.Warn("notification", args...)
	} else {
		n.logger.Info("notification", args...)
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
