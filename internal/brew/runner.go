package brew

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/brewlogic/internal/gateway"
	"github.com/nerrad567/brewlogic/internal/recipe"
)

// Runner performs single appliance actions.
//
// Each action follows the same protocol: fault pre-check, arm the
// completion watcher, issue the command, then wait for completion while
// watching for faults. A fault yields a FaultError and leaves recovery to
// the caller.
type Runner struct {
	gw       gateway.Gateway
	faults   *FaultMonitor
	entities Entities
	timing   Timing
	logger   Logger
}

// NewRunner creates a runner for the given appliance entities.
func NewRunner(gw gateway.Gateway, faults *FaultMonitor, entities Entities, timing Timing) *Runner {
	return &Runner{
		gw:       gw,
		faults:   faults,
		entities: entities,
		timing:   timing,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// ResolveBeverage maps a recipe beverage name to a selector option: exact
// match first, then a case-insensitive match (logged as an advisory).
func (r *Runner) ResolveBeverage(ctx context.Context, name string) (string, error) {
	st, err := r.gw.GetState(ctx, r.entities.DrinkSelect)
	if err != nil {
		if errors.Is(err, gateway.ErrEntityNotFound) {
			return "", fmt.Errorf("%w: %s", ErrMissingEntity, r.entities.DrinkSelect)
		}
		return "", fmt.Errorf("reading %s: %w", r.entities.DrinkSelect, err)
	}

	options, err := st.Options()
	if err != nil {
		return "", fmt.Errorf("reading options of %s: %w", r.entities.DrinkSelect, err)
	}

	option, exact, err := resolveOption(name, options)
	if err != nil {
		return "", err
	}
	if !exact {
		r.logger.Warn("beverage matched case-insensitively, update the recipe to the exact name",
			"requested", name, "option", option)
	}
	return option, nil
}

func resolveOption(name string, options []string) (option string, exact bool, err error) {
	for _, opt := range options {
		if opt == name {
			return opt, true, nil
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, name) {
			return opt, false, nil
		}
	}
	return "", false, &ResolutionError{Requested: name, Options: append([]string(nil), options...)}
}

// RunBeverage resolves the beverage name and prepares it once.
func (r *Runner) RunBeverage(ctx context.Context, b recipe.Beverage, timeout time.Duration) error {
	option, err := r.ResolveBeverage(ctx, b.Name)
	if err != nil {
		return err
	}

	return r.runAction(ctx, action{
		kind:    ActionBeverage,
		target:  option,
		tracked: []string{r.entities.StartSwitch},
		timeout: timeout,
		trigger: func(ctx context.Context) error {
			return r.startBeverage(ctx, option, b.Double)
		},
	})
}

func (r *Runner) startBeverage(ctx context.Context, option string, double bool) error {
	if err := r.gw.SetState(ctx, r.entities.DrinkSelect, option); err != nil {
		return fmt.Errorf("selecting %s: %w", option, err)
	}

	if r.entities.DoubleSwitch != "" {
		if _, err := r.gw.GetState(ctx, r.entities.DoubleSwitch); errors.Is(err, gateway.ErrEntityNotFound) {
			r.logger.Warn("double switch not found, skipping double setting",
				"entity", r.entities.DoubleSwitch)
		} else {
			value := gateway.StateOff
			if double {
				value = gateway.StateOn
			}
			if err := r.gw.SetState(ctx, r.entities.DoubleSwitch, value); err != nil {
				return fmt.Errorf("setting double switch: %w", err)
			}
		}
	}

	if err := sleepCtx(ctx, r.timing.SelectSettle); err != nil {
		return err
	}
	return r.gw.SetState(ctx, r.entities.StartSwitch, gateway.StateOn)
}

// RunActivator cycles an auxiliary switch count times with a settle delay
// between runs. The first failed run ends the sequence. progress, when
// set, is called before each run with its 1-based iteration.
func (r *Runner) RunActivator(ctx context.Context, entityID string, count int, timeout time.Duration, progress func(iteration int)) error {
	for i := 1; i <= count; i++ {
		if i > 1 {
			if err := sleepCtx(ctx, r.timing.ActivatorSettle); err != nil {
				return err
			}
		}
		if progress != nil {
			progress(i)
		}

		r.logger.Debug("activator run", "entity", entityID, "iteration", i, "count", count)
		err := r.runAction(ctx, action{
			kind:    ActionActivator,
			target:  entityID,
			tracked: []string{entityID, r.entities.StartSwitch},
			timeout: timeout,
			trigger: func(ctx context.Context) error {
				return r.gw.SetState(ctx, entityID, gateway.StateOn)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type action struct {
	kind    ActionKind
	target  string
	tracked []string
	timeout time.Duration
	trigger func(ctx context.Context) error
}

func (r *Runner) runAction(ctx context.Context, a action) error {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		faultMu sync.Mutex
		fault   *Fault
	)
	faultSeen := func() *Fault {
		faultMu.Lock()
		defer faultMu.Unlock()
		return fault
	}

	fw, err := r.faults.Watch(ctx, func(active bool, f Fault) {
		if !active {
			return
		}
		faultMu.Lock()
		if fault == nil {
			fault = &f
		}
		faultMu.Unlock()
		cancel()
	})
	if err != nil {
		return err
	}
	defer fw.Stop()

	if f := fw.Active(); f != nil {
		return &FaultError{Fault: *f}
	}

	w, err := ArmWatcher(ctx, r.gw, CompletionCondition{Tracked: a.tracked})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := a.trigger(actx); err != nil {
		if f := faultSeen(); f != nil {
			return &FaultError{Fault: *f}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("starting %s: %w", a.target, err)
	}

	res := w.Wait(actx, r.timing.StartTimeout, a.timeout)
	switch res.Outcome {
	case OutcomeCompleted:
		if !res.StartConfirmed {
			r.logger.Debug("action completed without start confirmation", "target", a.target)
		}
		return nil
	case OutcomeCancelled:
		if f := faultSeen(); f != nil {
			return &FaultError{Fault: *f}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	default:
		return &TimeoutError{
			Outcome:  res.Outcome,
			Kind:     a.kind,
			EntityID: res.EntityID,
			State:    res.Value,
			Timeout:  a.timeout,
		}
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
