package gateway

import (
	"time"
)

// DefaultDrinkOptions lists the beverages offered by the appliance's
// drink selector.
var DefaultDrinkOptions = []string{
	"Espresso",
	"Americano",
	"CafeLatte",
	"LatteMacchiato",
	"Ristretto",
	"Doppio",
	"EspressoMacchiato",
	"RistrettoBianco",
	"FlatWhite",
	"Cortado",
	"IcedAmericano",
	"IcedLatte",
	"Hotwater",
	"HotMilk",
	"TravelMug",
	"Cappuccino",
}

// SimulatorConfig describes the simulated appliance.
type SimulatorConfig struct {
	DrinkSelect  string
	StartSwitch  string
	DoubleSwitch string
	WorkState    string
	FaultSensors []string
	Activators   []string
	Options      []string // DefaultDrinkOptions when empty

	// BrewTime is how long the start switch stays on per beverage.
	BrewTime time.Duration

	// ActivatorTime is how long an activator stays on per run.
	ActivatorTime time.Duration
}

// NewSimulator returns a Memory gateway that behaves like an idle appliance:
// selecting an option updates the selector, and switching start or an
// activator on reports on, then off after the configured time.
func NewSimulator(cfg SimulatorConfig) *Memory {
	m := NewMemory()
	if len(cfg.Options) == 0 {
		cfg.Options = DefaultDrinkOptions
	}

	m.Add(cfg.DrinkSelect, firstOption(cfg.Options), map[string]any{
		"friendly_name": "Drink",
		"options":       toAny(cfg.Options),
	})
	m.Add(cfg.StartSwitch, StateOff, map[string]any{"friendly_name": "Start"})
	if cfg.DoubleSwitch != "" {
		m.Add(cfg.DoubleSwitch, StateOff, map[string]any{"friendly_name": "Double"})
	}
	if cfg.WorkState != "" {
		m.Add(cfg.WorkState, "idle", map[string]any{"friendly_name": "Work state"})
	}
	for _, id := range cfg.FaultSensors {
		m.Add(id, StateOff, nil)
	}

	m.OnCommand(cfg.StartSwitch, cycleHook(cfg.BrewTime, cfg.StartSwitch, cfg.WorkState))
	for _, id := range cfg.Activators {
		m.Add(id, StateOff, nil)
		m.OnCommand(id, cycleHook(cfg.ActivatorTime, cfg.StartSwitch, cfg.WorkState))
	}

	return m
}

// cycleHook reports the commanded entity (and start, which the appliance
// raises for any dispensing) on, then off after d.
func cycleHook(d time.Duration, start, workState string) CommandHook {
	return func(m *Memory, entityID, value string) error {
		if Classify(value) != Active {
			return m.Report(entityID, value)
		}

		ids := []string{entityID}
		if entityID != start {
			ids = append(ids, start)
		}
		for _, id := range ids {
			if err := m.Report(id, StateOn); err != nil {
				return err
			}
		}
		if workState != "" {
			_ = m.Report(workState, "brewing") //nolint:errcheck // informational only
		}

		time.AfterFunc(d, func() {
			for _, id := range ids {
				_ = m.Report(id, StateOff) //nolint:errcheck // entity may be removed in tests
			}
			if workState != "" {
				_ = m.Report(workState, "idle") //nolint:errcheck // informational only
			}
		})
		return nil
	}
}

func firstOption(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[0]
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
