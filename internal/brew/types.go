package brew

import (
	"time"

	"github.com/nerrad567/brewlogic/internal/gateway"
)

// Status is the lifecycle state of the executor.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusRunning           Status = "running"
	StatusWaitingFaultClear Status = "waiting_fault_clear"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
)

// Active reports whether a run is in progress.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusWaitingFaultClear
}

// ActionKind distinguishes the two atomic actions.
type ActionKind string

const (
	ActionBeverage  ActionKind = "beverage"
	ActionActivator ActionKind = "activator"
)

// Action describes the sub-action in progress within a step.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Target is the beverage name or the activator entity id.
	Target string `json:"target"`

	// Iteration counts from 1 up to Repeat.
	Iteration int `json:"iteration"`
	Repeat    int `json:"repeat"`
}

// RunState is a snapshot of the executor's run record.
type RunState struct {
	RunID       string     `json:"run_id,omitempty"`
	RecipeKey   string     `json:"recipe_key,omitempty"`
	RecipeName  string     `json:"recipe_name,omitempty"`
	Status      Status     `json:"status"`
	StepIndex   int        `json:"step_index"`
	TotalSteps  int        `json:"total_steps"`
	Action      *Action    `json:"action,omitempty"`
	LastFault   string     `json:"last_fault,omitempty"`
	Error       string     `json:"error,omitempty"`
	FaultPauses int        `json:"fault_pauses"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (s RunState) clone() RunState {
	cpy := s
	if s.Action != nil {
		a := *s.Action
		cpy.Action = &a
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cpy.FinishedAt = &t
	}
	return cpy
}

// EventType names a run transition.
type EventType string

const (
	EventStarted       EventType = "brew_started"
	EventStepStarted   EventType = "step_started"
	EventActionStarted EventType = "action_started"
	EventPaused        EventType = "brew_paused"
	EventResumed       EventType = "brew_resumed"
	EventCompleted     EventType = "brew_completed"
	EventFailed        EventType = "brew_failed"
	EventAborted       EventType = "brew_aborted"
)

// Terminal reports whether the event ends a run.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventAborted
}

// Event is delivered to listeners after every transition.
type Event struct {
	Type  EventType `json:"type"`
	State RunState  `json:"state"`
}

// Listener observes run transitions. Listeners are called one at a time in
// transition order and must not call Start or Abort.
type Listener func(Event)

// Entities names the appliance entities the engine drives.
type Entities struct {
	DrinkSelect  string
	StartSwitch  string
	DoubleSwitch string // optional
	FaultSensors []string
}

// Timing holds the waits and settle delays of the action protocol.
type Timing struct {
	// StartTimeout bounds the wait for the first active report.
	StartTimeout time.Duration

	// DefaultStepTimeout bounds completion when a step sets no timeout.
	DefaultStepTimeout time.Duration

	// SelectSettle separates beverage selection from the start command.
	SelectSettle time.Duration

	// ActivatorSettle separates repeated runs of one activator.
	ActivatorSettle time.Duration

	// FaultSettle separates fault clearance from the step restart.
	FaultSettle time.Duration
}

// DefaultTiming returns the timings used by the appliance integration.
func DefaultTiming() Timing {
	return Timing{
		StartTimeout:       15 * time.Second,
		DefaultStepTimeout: 300 * time.Second,
		SelectSettle:       time.Second,
		ActivatorSettle:    time.Second,
		FaultSettle:        2 * time.Second,
	}
}

// Fault is one active appliance fault.
type Fault struct {
	EntityID    string `json:"entity_id"`
	Description string `json:"description"`
}

func faultFromState(st gateway.State) Fault {
	return Fault{EntityID: st.EntityID, Description: st.FriendlyName()}
}

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
