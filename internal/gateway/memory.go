package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Command is one SetState call recorded by Memory.
type Command struct {
	EntityID string
	Value    string
	At       time.Time
}

// CommandHook replaces the default handling of a command for one entity.
// It runs on the caller's goroutine after the command is recorded and
// typically reports new states through Memory.Report.
type CommandHook func(m *Memory, entityID, value string) error

// Memory is an in-process Gateway.
//
// Without a hook a command is applied directly: the entity reports the
// commanded value. Hooks let tests and the simulator model real appliance
// behaviour such as a start switch that falls back to off when a brew ends.
//
// Thread Safety: all methods are safe for concurrent use.
type Memory struct {
	dispatcher

	mu       sync.Mutex
	states   map[string]State
	hooks    map[string]CommandHook
	commands []Command
	now      func() time.Time
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		states: make(map[string]State),
		hooks:  make(map[string]CommandHook),
		now:    time.Now,
	}
}

// Add registers an entity with an initial value. Existing entities are replaced
// without notifying subscribers.
func (m *Memory) Add(entityID, value string, attributes map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[entityID] = State{
		EntityID:   entityID,
		Value:      value,
		Attributes: cloneAttributes(attributes),
		UpdatedAt:  m.now(),
	}
}

// Remove deletes an entity.
func (m *Memory) Remove(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, entityID)
}

// OnCommand installs hook for commands to entityID. A nil hook restores the
// default handling.
func (m *Memory) OnCommand(entityID string, hook CommandHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook == nil {
		delete(m.hooks, entityID)
		return
	}
	m.hooks[entityID] = hook
}

// Report sets the entity value as if the appliance reported it and notifies
// subscribers.
func (m *Memory) Report(entityID, value string) error {
	m.mu.Lock()
	prev, ok := m.states[entityID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	next := prev.Clone()
	next.Value = value
	next.UpdatedAt = m.now()
	m.states[entityID] = next
	m.mu.Unlock()

	old := prev
	m.notify(StateChange{EntityID: entityID, Old: &old, New: next.Clone()})
	return nil
}

// GetState implements Gateway.
func (m *Memory) GetState(ctx context.Context, entityID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[entityID]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return st.Clone(), nil
}

// SetState implements Gateway.
func (m *Memory) SetState(ctx context.Context, entityID, value string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}

	m.mu.Lock()
	if _, ok := m.states[entityID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	m.commands = append(m.commands, Command{EntityID: entityID, Value: value, At: m.now()})
	hook := m.hooks[entityID]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(m, entityID, value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCommandFailed, entityID, err)
		}
		return nil
	}
	return m.Report(entityID, value)
}

// Subscribe implements Gateway.
func (m *Memory) Subscribe(entityID string, handler Handler) (Subscription, error) {
	return m.subscribe(entityID, handler)
}

// Unsubscribe implements Gateway.
func (m *Memory) Unsubscribe(sub Subscription) {
	m.unsubscribe(sub)
}

// Commands returns a copy of every command issued so far, oldest first.
func (m *Memory) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.commands...)
}

// SubscriptionCount returns the number of live subscriptions.
func (m *Memory) SubscriptionCount() int {
	return m.count()
}
