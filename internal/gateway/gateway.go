package gateway

import (
	"context"
	"sync"
)

// Gateway is the capability set the recipe executor needs from the appliance.
type Gateway interface {
	// GetState returns the current state or ErrEntityNotFound.
	GetState(ctx context.Context, entityID string) (State, error)

	// SetState asks the appliance to change an entity to value.
	// It returns once the command is issued, not when the state changes.
	SetState(ctx context.Context, entityID, value string) error

	// Subscribe registers handler for state changes of entityID.
	Subscribe(entityID string, handler Handler) (Subscription, error)

	// Unsubscribe releases a subscription. Releasing twice is a no-op.
	Unsubscribe(sub Subscription)
}

// Handler receives state changes. It runs on the notifying goroutine and
// must not block.
type Handler func(StateChange)

// Subscription identifies one registered handler.
type Subscription struct {
	entityID string
	id       uint64
}

// EntityID returns the subscribed entity.
func (s Subscription) EntityID() string {
	return s.entityID
}

// Logger defines the logging interface used by gateways.
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

// dispatcher is the subscription table shared by both gateways.
type dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func (d *dispatcher) subscribe(entityID string, handler Handler) (Subscription, error) {
	if handler == nil {
		return Subscription{}, ErrNilHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subs == nil {
		d.subs = make(map[string]map[uint64]Handler)
	}
	d.nextID++
	if d.subs[entityID] == nil {
		d.subs[entityID] = make(map[uint64]Handler)
	}
	d.subs[entityID][d.nextID] = handler
	return Subscription{entityID: entityID, id: d.nextID}, nil
}

func (d *dispatcher) unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.subs[sub.entityID]
	delete(handlers, sub.id)
	if len(handlers) == 0 {
		delete(d.subs, sub.entityID)
	}
}

// notify calls every handler of the changed entity outside the table lock,
// so handlers may subscribe or unsubscribe.
func (d *dispatcher) notify(change StateChange) {
	d.mu.RLock()
	handlers := make([]Handler, 0, len(d.subs[change.EntityID]))
	for _, h := range d.subs[change.EntityID] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}

// count returns the number of live subscriptions.
func (d *dispatcher) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, handlers := range d.subs {
		n += len(handlers)
	}
	return n
}
