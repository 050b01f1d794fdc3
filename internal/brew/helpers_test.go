package brew

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/brewlogic/internal/gateway"
	"github.com/nerrad567/brewlogic/internal/notify"
	"github.com/nerrad567/brewlogic/internal/recipe"
)

const (
	drinkSelect  = "select.coffee_drink"
	startSwitch  = "switch.coffee_start"
	doubleSwitch = "switch.coffee_double"
	rinseSwitch  = "switch.coffee_rinse"
	milkSwitch   = "switch.coffee_milk_clean"
	waterFault   = "binary_sensor.coffee_water_empty"
	trayFault    = "binary_sensor.coffee_tray_full"
)

var drinkOptions = []any{"LatteMacchiato", "Espresso"}

// newAppliance returns a gateway with the stock entities, all idle.
// Start and activators cycle on then off synchronously, within the command.
func newAppliance(t *testing.T) *gateway.Memory {
	t.Helper()
	gw := gateway.NewMemory()
	gw.Add(drinkSelect, "Espresso", map[string]any{"options": drinkOptions, "friendly_name": "Drink"})
	gw.Add(startSwitch, gateway.StateOff, nil)
	gw.Add(doubleSwitch, gateway.StateOff, nil)
	gw.Add(rinseSwitch, gateway.StateOff, nil)
	gw.Add(milkSwitch, gateway.StateOff, nil)
	gw.Add(waterFault, gateway.StateOff, map[string]any{"friendly_name": "Water tank empty"})
	gw.Add(trayFault, gateway.StateOff, map[string]any{"friendly_name": "Drip tray full"})

	gw.OnCommand(startSwitch, instantCycle())
	gw.OnCommand(rinseSwitch, activatorCycle())
	gw.OnCommand(milkSwitch, activatorCycle())
	return gw
}

// instantCycle reports on then off before the command returns.
func instantCycle() gateway.CommandHook {
	return func(m *gateway.Memory, id, value string) error {
		if value != gateway.StateOn {
			return m.Report(id, value)
		}
		if err := m.Report(id, gateway.StateOn); err != nil {
			return err
		}
		return m.Report(id, gateway.StateOff)
	}
}

// activatorCycle models an auxiliary program: the activator and the start
// switch both go on, then both go off, all within the command.
func activatorCycle() gateway.CommandHook {
	return func(m *gateway.Memory, id, value string) error {
		if value != gateway.StateOn {
			return m.Report(id, value)
		}
		for _, step := range []struct{ id, value string }{
			{id, gateway.StateOn},
			{startSwitch, gateway.StateOn},
			{id, gateway.StateOff},
			{startSwitch, gateway.StateOff},
		} {
			if err := m.Report(step.id, step.value); err != nil {
				return err
			}
		}
		return nil
	}
}

// latchOn reports on and never turns off.
func latchOn() gateway.CommandHook {
	return func(m *gateway.Memory, id, value string) error {
		return m.Report(id, value)
	}
}

// ignore accepts the command without any state change.
func ignore() gateway.CommandHook {
	return func(*gateway.Memory, string, string) error { return nil }
}

func testEntities() Entities {
	return Entities{
		DrinkSelect:  drinkSelect,
		StartSwitch:  startSwitch,
		DoubleSwitch: doubleSwitch,
		FaultSensors: []string{waterFault, trayFault},
	}
}

func testTiming() Timing {
	return Timing{
		StartTimeout:       100 * time.Millisecond,
		DefaultStepTimeout: 2 * time.Second,
		SelectSettle:       0,
		ActivatorSettle:    5 * time.Millisecond,
		FaultSettle:        10 * time.Millisecond,
	}
}

func testConfig() Config {
	return Config{
		Entities:      testEntities(),
		Timing:        testTiming(),
		NotifyTimeout: time.Second,
		AbortTimeout:  2 * time.Second,
	}
}

// countCommands returns how often entityID was commanded to value.
func countCommands(gw *gateway.Memory, entityID, value string) int {
	n := 0
	for _, c := range gw.Commands() {
		if c.EntityID == entityID && c.Value == value {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recipeMap map[string]*recipe.Recipe

func (m recipeMap) GetRecipe(_ context.Context, key string) (*recipe.Recipe, error) {
	r, ok := m[key]
	if !ok {
		return nil, recipe.ErrRecipeNotFound
	}
	return r.DeepCopy(), nil
}

type mockNotifier struct {
	mu    sync.Mutex
	sent  []notify.Notification
	err   error
	delay time.Duration
}

func (n *mockNotifier) Notify(ctx context.Context, note notify.Notification) error {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

func (n *mockNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.Kind
	}
	return out
}

type mockStats struct {
	mu          sync.Mutex
	completions []string
}

func (s *mockStats) RecordCompletion(_ context.Context, key string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, key)
	return nil
}

func (s *mockStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completions)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) count(t EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args) }

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprint(level, " ", msg, " ", args))
}

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := level + " " + msg
	for _, line := range l.lines {
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
