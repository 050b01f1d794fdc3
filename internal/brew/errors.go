package brew

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors for the brew package. Check with errors.Is.
var (
	// ErrUnknownRecipe is returned by Start for a key the recipe source does not know.
	ErrUnknownRecipe = errors.New("brew: unknown recipe")

	// ErrMissingEntity is returned when an entity a recipe needs is not reported by the gateway.
	ErrMissingEntity = errors.New("brew: missing entity")

	// ErrNothingToTrack is returned when a completion condition names no entities.
	ErrNothingToTrack = errors.New("brew: completion condition tracks no entities")

	// ErrBeverageUnavailable is wrapped by ResolutionError.
	ErrBeverageUnavailable = errors.New("brew: beverage not available")

	// ErrActionTimeout is wrapped by TimeoutError.
	ErrActionTimeout = errors.New("brew: action timed out")

	// ErrFaultActive is wrapped by FaultError.
	ErrFaultActive = errors.New("brew: appliance fault active")

	// ErrFaultLimit is returned when a run pauses for faults more often than allowed.
	ErrFaultLimit = errors.New("brew: fault pause limit reached")
)

// ResolutionError reports a beverage name that matches no selector option.
type ResolutionError struct {
	Requested string
	Options   []string
}

func (e *ResolutionError) Error() string {
	if len(e.Options) == 0 {
		return fmt.Sprintf("beverage %q not available: selector reports no options", e.Requested)
	}
	return fmt.Sprintf("beverage %q not available, valid options: %s",
		e.Requested, strings.Join(e.Options, ", "))
}

func (e *ResolutionError) Unwrap() error { return ErrBeverageUnavailable }

// TimeoutError reports an action whose entities did not complete in time.
type TimeoutError struct {
	Outcome  Outcome
	Kind     ActionKind
	EntityID string
	State    string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Outcome == OutcomeTimedOutWaitingStart {
		hint := "likely wrong beverage name"
		if e.Kind == ActionActivator {
			hint = "likely wrong entity id"
		}
		return fmt.Sprintf("%s never became active (state %q): %s", e.EntityID, e.State, hint)
	}
	return fmt.Sprintf("timed out after %s waiting for %s to finish (state %q)", e.Timeout, e.EntityID, e.State)
}

func (e *TimeoutError) Unwrap() error { return ErrActionTimeout }

// FaultError interrupts an action because the appliance reported a fault.
// It is recoverable: the executor waits for clearance and restarts the step.
type FaultError struct {
	Fault Fault
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("fault active: %s", e.Fault.Description)
}

func (e *FaultError) Unwrap() error { return ErrFaultActive }
