package brew

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/brewlogic/internal/gateway"
	"github.com/nerrad567/brewlogic/internal/notify"
	"github.com/nerrad567/brewlogic/internal/recipe"
)

// RecipeSource supplies recipes by key. recipe.Registry satisfies it.
type RecipeSource interface {
	GetRecipe(ctx context.Context, key string) (*recipe.Recipe, error)
}

// Statistics records completed brews.
type Statistics interface {
	RecordCompletion(ctx context.Context, recipeKey string, at time.Time) error
}

// Config configures an Executor.
type Config struct {
	Entities Entities
	Timing   Timing

	// MaxFaultPauses bounds how often one run may pause for faults.
	// Zero means no limit; the user can always abort.
	MaxFaultPauses int

	// NotifyTimeout bounds each notification and statistics write.
	NotifyTimeout time.Duration

	// AbortTimeout bounds how long Abort waits for the run to wind down.
	AbortTimeout time.Duration
}

// DefaultConfig returns the configuration for the stock appliance entities.
func DefaultConfig() Config {
	return Config{
		Entities: Entities{
			DrinkSelect:  "select.coffee_machine_drink_set",
			StartSwitch:  "switch.coffee_machine_start",
			DoubleSwitch: "switch.coffee_machine_double",
		},
		Timing:        DefaultTiming(),
		NotifyTimeout: 5 * time.Second,
		AbortTimeout:  10 * time.Second,
	}
}

// run is one in-flight recipe execution.
type run struct {
	id       string
	recipe   *recipe.Recipe
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool // guarded by Executor.mu
}

// Executor runs one recipe at a time.
//
// Start replaces any active run. The run proceeds on its own goroutine
// through the steps; a fault pauses it until the fault clears, after which
// the current step restarts from its first action.
//
// Thread Safety: all methods are safe for concurrent use.
type Executor struct {
	gw      gateway.Gateway
	recipes RecipeSource
	faults  *FaultMonitor
	runner  *Runner
	cfg     Config

	notifier notify.Notifier
	stats    Statistics
	logger   Logger
	now      func() time.Time

	controlMu sync.Mutex // serialises Start and Abort

	mu      sync.RWMutex
	state   RunState
	current *run

	listenMu  sync.Mutex
	listeners []Listener
}

// NewExecutor creates an executor driving gw.
func NewExecutor(gw gateway.Gateway, recipes RecipeSource, cfg Config) *Executor {
	faults := NewFaultMonitor(gw, cfg.Entities.FaultSensors)
	return &Executor{
		gw:      gw,
		recipes: recipes,
		faults:  faults,
		runner:  NewRunner(gw, faults, cfg.Entities, cfg.Timing),
		cfg:     cfg,
		logger:  noopLogger{},
		now:     time.Now,
		state:   RunState{Status: StatusIdle},
	}
}

// SetLogger sets the logger for the executor and its runner.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
	e.runner.SetLogger(logger)
}

// SetNotifier sets the notifier for user-facing messages.
func (e *Executor) SetNotifier(n notify.Notifier) {
	e.notifier = n
}

// SetStatistics sets the completion statistics store.
func (e *Executor) SetStatistics(s Statistics) {
	e.stats = s
}

// AddListener registers a listener for run transitions.
func (e *Executor) AddListener(l Listener) {
	e.listenMu.Lock()
	defer e.listenMu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Faults returns the executor's fault monitor.
func (e *Executor) Faults() *FaultMonitor {
	return e.faults
}

// RunState returns a snapshot of the current run record.
func (e *Executor) RunState() RunState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// Start begins brewing the recipe with the given key.
//
// Unknown recipes and missing entities are rejected before anything
// changes. An active run is aborted first. The returned snapshot shows the
// new run in the running state; execution continues in the background.
func (e *Executor) Start(ctx context.Context, key string) (RunState, error) {
	rec, err := e.recipes.GetRecipe(ctx, key)
	if err != nil {
		if errors.Is(err, recipe.ErrRecipeNotFound) {
			return RunState{}, fmt.Errorf("%w: %s", ErrUnknownRecipe, key)
		}
		return RunState{}, fmt.Errorf("loading recipe %s: %w", key, err)
	}
	if err := e.checkEntities(ctx, rec); err != nil {
		return RunState{}, err
	}

	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	if e.stopCurrent(ctx) {
		e.logger.Info("active run replaced", "recipe", key)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{
		id:     uuid.NewString(),
		recipe: rec,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	now := e.now()
	e.mu.Lock()
	e.current = rn
	e.state = RunState{
		RunID:      rn.id,
		RecipeKey:  rec.Key,
		RecipeName: rec.Name,
		Status:     StatusRunning,
		TotalSteps: len(rec.Steps),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	snap := e.state.clone()
	e.mu.Unlock()

	e.logger.Info("recipe started", "recipe", rec.Key, "run_id", rn.id, "steps", len(rec.Steps))
	e.emit(Event{Type: EventStarted, State: snap})

	go e.execute(runCtx, rn)
	return snap, nil
}

// Abort cancels the active run and waits for it to stop. It returns nil
// when nothing is running.
func (e *Executor) Abort(ctx context.Context) error {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	if !e.stopCurrent(ctx) {
		e.logger.Debug("abort requested with no active run")
	}
	return nil
}

// stopCurrent cancels the active run, waits for its goroutine within the
// abort timeout and moves the state to idle. Callers hold controlMu.
func (e *Executor) stopCurrent(ctx context.Context) bool {
	e.mu.RLock()
	rn := e.current
	e.mu.RUnlock()
	if rn == nil {
		return false
	}

	rn.cancel()

	timer := time.NewTimer(e.cfg.AbortTimeout)
	defer timer.Stop()
	select {
	case <-rn.done:
	case <-timer.C:
		e.logger.Warn("run did not stop within abort timeout", "run_id", rn.id, "timeout", e.cfg.AbortTimeout)
	case <-ctx.Done():
	}

	e.finishAborted(ctx, rn)
	return true
}

// checkEntities verifies every entity the recipe drives is known.
func (e *Executor) checkEntities(ctx context.Context, rec *recipe.Recipe) error {
	needed := []string{e.cfg.Entities.StartSwitch}
	for _, s := range rec.Steps {
		if s.Beverage != nil {
			needed = append(needed, e.cfg.Entities.DrinkSelect)
		}
		for _, a := range s.Runs() {
			needed = append(needed, a.EntityID)
		}
	}

	for _, id := range dedupe(needed) {
		if _, err := e.gw.GetState(ctx, id); err != nil {
			if errors.Is(err, gateway.ErrEntityNotFound) {
				return fmt.Errorf("%w: %s", ErrMissingEntity, id)
			}
			return fmt.Errorf("checking %s: %w", id, err)
		}
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, rn *run) {
	defer close(rn.done)

	for i := range rn.recipe.Steps {
		if ctx.Err() != nil {
			e.finishAborted(ctx, rn)
			return
		}

		ok := e.transition(rn, EventStepStarted, func(s *RunState) {
			s.StepIndex = i
			s.Action = nil
			s.Status = StatusRunning
		})
		if !ok {
			return
		}
		e.logger.Info("step started", "recipe", rn.recipe.Key, "run_id", rn.id,
			"step", i+1, "total", len(rn.recipe.Steps))

		if err := e.runStepWithRecovery(ctx, rn, i); err != nil {
			if ctx.Err() != nil {
				e.finishAborted(ctx, rn)
			} else {
				e.finishFailed(ctx, rn, err)
			}
			return
		}
	}

	e.finishCompleted(ctx, rn)
}

// runStepWithRecovery runs one step, pausing on faults and restarting the
// step from its first action after each clearance.
func (e *Executor) runStepWithRecovery(ctx context.Context, rn *run, index int) error {
	for {
		err := e.runStep(ctx, rn, index)
		var fe *FaultError
		if !errors.As(err, &fe) {
			return err
		}
		if err := e.pauseForFault(ctx, rn, fe.Fault); err != nil {
			return err
		}
		e.logger.Info("restarting step after fault", "recipe", rn.recipe.Key, "step", index+1)
	}
}

func (e *Executor) runStep(ctx context.Context, rn *run, index int) error {
	step := rn.recipe.Steps[index]

	f, err := e.faults.CheckNow(ctx)
	if err != nil {
		return err
	}
	if f != nil {
		return &FaultError{Fault: *f}
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timing.DefaultStepTimeout
	}

	for _, a := range step.Runs() {
		err := e.runner.RunActivator(ctx, a.EntityID, a.Count, timeout, func(iteration int) {
			e.transition(rn, EventActionStarted, func(s *RunState) {
				s.Action = &Action{Kind: ActionActivator, Target: a.EntityID, Iteration: iteration, Repeat: a.Count}
			})
		})
		if err != nil {
			return err
		}
	}

	if step.Beverage == nil {
		return nil
	}
	e.transition(rn, EventActionStarted, func(s *RunState) {
		s.Action = &Action{Kind: ActionBeverage, Target: step.Beverage.Name, Iteration: 1, Repeat: 1}
	})
	return e.runner.RunBeverage(ctx, *step.Beverage, timeout)
}

func (e *Executor) pauseForFault(ctx context.Context, rn *run, f Fault) error {
	snap := e.RunState()
	if e.cfg.MaxFaultPauses > 0 && snap.FaultPauses >= e.cfg.MaxFaultPauses {
		return fmt.Errorf("%w: %d pauses, last fault: %s", ErrFaultLimit, snap.FaultPauses, f.Description)
	}

	ok := e.transition(rn, EventPaused, func(s *RunState) {
		s.Status = StatusWaitingFaultClear
		s.LastFault = f.Description
		s.FaultPauses++
		s.Action = nil
	})
	if !ok {
		return context.Canceled
	}
	e.logger.Warn("recipe paused on fault", "recipe", rn.recipe.Key, "run_id", rn.id,
		"step", snap.StepIndex+1, "fault", f.Description, "entity", f.EntityID)
	e.notify(ctx, rn, notify.Notification{
		Kind:    notify.KindPaused,
		Title:   "Recipe paused: " + rn.recipe.Name,
		Message: fmt.Sprintf("Step %d/%d\nFault: %s\nFix the issue and brewing will resume automatically.", snap.StepIndex+1, snap.TotalSteps, f.Description),
		Urgency: notify.UrgencyHigh,
	})

	if err := e.faults.WaitClear(ctx); err != nil {
		return err
	}
	if err := sleepCtx(ctx, e.cfg.Timing.FaultSettle); err != nil {
		return err
	}

	if !e.transition(rn, EventResumed, func(s *RunState) { s.Status = StatusRunning }) {
		return context.Canceled
	}
	e.logger.Info("fault cleared, resuming", "recipe", rn.recipe.Key, "run_id", rn.id, "step", snap.StepIndex+1)
	e.notify(ctx, rn, notify.Notification{
		Kind:    notify.KindResumed,
		Title:   "Fault resolved",
		Message: fmt.Sprintf("Resuming recipe: %s\nStep %d/%d", rn.recipe.Name, snap.StepIndex+1, snap.TotalSteps),
		Urgency: notify.UrgencyNormal,
	})
	return nil
}

func (e *Executor) finishCompleted(ctx context.Context, rn *run) {
	snap, ok := e.finish(rn, func(s *RunState) {
		s.Status = StatusCompleted
		s.Action = nil
	})
	if !ok {
		return
	}

	e.logger.Info("recipe completed", "recipe", rn.recipe.Key, "run_id", rn.id,
		"duration", snap.UpdatedAt.Sub(snap.StartedAt))
	e.emit(Event{Type: EventCompleted, State: snap})

	if e.stats != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
		if err := e.stats.RecordCompletion(sctx, rn.recipe.Key, snap.UpdatedAt); err != nil {
			e.logger.Error("recording brew statistics failed", "recipe", rn.recipe.Key, "error", err)
		}
		cancel()
	}

	e.notify(ctx, rn, notify.Notification{
		Kind:    notify.KindCompleted,
		Title:   "Recipe completed",
		Message: fmt.Sprintf("%s is ready (%d steps)", rn.recipe.Name, snap.TotalSteps),
		Urgency: notify.UrgencyNormal,
	})
}

func (e *Executor) finishFailed(ctx context.Context, rn *run, cause error) {
	snap, ok := e.finish(rn, func(s *RunState) {
		s.Status = StatusError
		s.Error = cause.Error()
		s.Action = nil
	})
	if !ok {
		return
	}

	e.logger.Error("recipe failed", "recipe", rn.recipe.Key, "run_id", rn.id,
		"step", snap.StepIndex+1, "error", cause)
	e.emit(Event{Type: EventFailed, State: snap})
	e.notify(ctx, rn, notify.Notification{
		Kind:    notify.KindFailed,
		Title:   "Recipe failed: " + rn.recipe.Name,
		Message: fmt.Sprintf("Step %d/%d\nReason: %s", snap.StepIndex+1, snap.TotalSteps, cause),
		Urgency: notify.UrgencyHigh,
	})
}

func (e *Executor) finishAborted(ctx context.Context, rn *run) {
	snap, ok := e.finish(rn, func(s *RunState) {
		s.Status = StatusIdle
		s.Action = nil
	})
	if !ok {
		return
	}

	e.logger.Info("recipe aborted", "recipe", rn.recipe.Key, "run_id", rn.id, "step", snap.StepIndex+1)
	e.emit(Event{Type: EventAborted, State: snap})
	e.notify(ctx, rn, notify.Notification{
		Kind:    notify.KindAborted,
		Title:   "Recipe aborted",
		Message: fmt.Sprintf("%s stopped at step %d/%d", rn.recipe.Name, snap.StepIndex+1, snap.TotalSteps),
		Urgency: notify.UrgencyLow,
	})
}

// transition mutates the state of a live run and emits the event. It
// reports false once the run has finished or been replaced.
func (e *Executor) transition(rn *run, t EventType, mutate func(*RunState)) bool {
	e.mu.Lock()
	if rn.finished || e.current != rn {
		e.mu.Unlock()
		return false
	}
	mutate(&e.state)
	e.state.UpdatedAt = e.now()
	snap := e.state.clone()
	e.mu.Unlock()

	e.emit(Event{Type: t, State: snap})
	return true
}

// finish moves a run to its terminal state exactly once.
func (e *Executor) finish(rn *run, mutate func(*RunState)) (RunState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rn.finished {
		return RunState{}, false
	}
	rn.finished = true
	if e.current != rn {
		return RunState{}, false
	}
	e.current = nil

	now := e.now()
	mutate(&e.state)
	e.state.UpdatedAt = now
	e.state.FinishedAt = &now
	return e.state.clone(), true
}

func (e *Executor) emit(ev Event) {
	e.listenMu.Lock()
	defer e.listenMu.Unlock()
	for _, l := range e.listeners {
		l(ev)
	}
}

func (e *Executor) notify(ctx context.Context, rn *run, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	n.RecipeKey = rn.recipe.Key
	n.RunID = rn.id

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(nctx, n); err != nil {
		e.logger.Warn("notification failed", "kind", n.Kind, "error", err)
	}
}
