package brew

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/brewlogic/internal/gateway"
)

// Outcome is how a Watcher resolved.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed"
	OutcomeTimedOutWaitingStart  Outcome = "timed-out-waiting-start"
	OutcomeTimedOutWaitingFinish Outcome = "timed-out-waiting-finish"
	OutcomeCancelled             Outcome = "cancelled"
)

// CompletionCondition lists the entities whose transitions end an action.
type CompletionCondition struct {
	// Tracked entities, primary first. Timeout results name the primary
	// entity when nothing ever became active.
	Tracked []string

	// Required entities must each go active then inactive. Empty means all
	// tracked entities.
	Required []string
}

// Result is the resolution of a Watcher.
type Result struct {
	Outcome Outcome

	// EntityID and Value describe the entity blamed for a timeout.
	EntityID string
	Value    string

	// StartConfirmed is false when no tracked entity became active within
	// the start timeout.
	StartConfirmed bool
}

type trackedEntity struct {
	current   gateway.Activity
	value     string
	observed  bool
	sawActive bool
	finished  bool
}

// Watcher resolves once the tracked entities have completed an
// armed, active, inactive cycle.
//
// Thread Safety: gateway callbacks may arrive on any goroutine. Wait must
// be called at most once.
type Watcher struct {
	gw       gateway.Gateway
	tracked  []string
	required []string

	mu       sync.Mutex
	entities map[string]*trackedEntity
	subs     []gateway.Subscription
	closed   bool
	changed  chan struct{}
}

// ArmWatcher subscribes to every tracked entity and records baselines.
// It must be called before the command that triggers the action.
func ArmWatcher(ctx context.Context, gw gateway.Gateway, cond CompletionCondition) (*Watcher, error) {
	tracked := dedupe(cond.Tracked)
	if len(tracked) == 0 {
		return nil, ErrNothingToTrack
	}
	required := dedupe(cond.Required)
	if len(required) == 0 {
		required = tracked
	}

	w := &Watcher{
		gw:       gw,
		tracked:  tracked,
		required: required,
		entities: make(map[string]*trackedEntity, len(tracked)),
		changed:  make(chan struct{}, 1),
	}
	for _, id := range tracked {
		w.entities[id] = &trackedEntity{}
	}
	for _, id := range required {
		if _, ok := w.entities[id]; !ok {
			return nil, fmt.Errorf("%w: required entity %s is not tracked", ErrNothingToTrack, id)
		}
	}

	for _, id := range tracked {
		sub, err := gw.Subscribe(id, w.handle)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", id, err)
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
	}

	for _, id := range tracked {
		st, err := gw.GetState(ctx, id)
		if err != nil {
			w.Close()
			if errors.Is(err, gateway.ErrEntityNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrMissingEntity, id)
			}
			return nil, fmt.Errorf("reading %s: %w", id, err)
		}
		w.setBaseline(id, st)
	}
	return w, nil
}

// setBaseline records the pre-command state unless an event already arrived.
// An entity that is already active counts as started.
func (w *Watcher) setBaseline(id string, st gateway.State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.entities[id]
	if e.observed {
		return
	}
	e.current = st.Activity()
	e.value = st.Value
	if e.current == gateway.Active {
		e.sawActive = true
	}
}

func (w *Watcher) handle(change gateway.StateChange) {
	w.mu.Lock()
	e, ok := w.entities[change.EntityID]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	e.observed = true
	e.value = change.New.Value
	e.current = change.New.Activity()
	switch e.current {
	case gateway.Active:
		e.sawActive = true
		e.finished = false
	case gateway.Inactive:
		if e.sawActive {
			e.finished = true
		}
	}
	w.mu.Unlock()

	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// Wait blocks until the action completes, a timeout expires or ctx is
// cancelled. Subscriptions are released before it returns.
func (w *Watcher) Wait(ctx context.Context, startTimeout, finishTimeout time.Duration) Result {
	defer w.Close()

	started, err := w.waitFor(ctx, startTimeout, w.started)
	if err != nil {
		return Result{Outcome: OutcomeCancelled}
	}

	done, err := w.waitFor(ctx, finishTimeout, w.complete)
	if err != nil {
		return Result{Outcome: OutcomeCancelled, StartConfirmed: started}
	}
	if done {
		return Result{Outcome: OutcomeCompleted, StartConfirmed: started}
	}

	res := w.timeoutResult()
	res.StartConfirmed = started
	return res
}

func (w *Watcher) waitFor(ctx context.Context, d time.Duration, cond func() bool) (bool, error) {
	if cond() {
		return true, nil
	}
	if d <= 0 {
		return false, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return cond(), nil
		case <-w.changed:
			if cond() {
				return true, nil
			}
		}
	}
}

// started reports whether any tracked entity has been seen active.
func (w *Watcher) started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entities {
		if e.sawActive {
			return true
		}
	}
	return false
}

// complete requires every required entity to have gone active then
// inactive, and no tracked entity to be active now.
func (w *Watcher) complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.required {
		e := w.entities[id]
		if !e.sawActive || !e.finished {
			return false
		}
	}
	for _, e := range w.entities {
		if e.current == gateway.Active {
			return false
		}
	}
	return true
}

func (w *Watcher) timeoutResult() Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	anyStarted := false
	for _, e := range w.entities {
		if e.sawActive {
			anyStarted = true
			break
		}
	}
	if !anyStarted {
		primary := w.tracked[0]
		return Result{
			Outcome:  OutcomeTimedOutWaitingStart,
			EntityID: primary,
			Value:    w.entities[primary].value,
		}
	}

	for _, id := range w.tracked {
		if e := w.entities[id]; e.current == gateway.Active {
			return Result{Outcome: OutcomeTimedOutWaitingFinish, EntityID: id, Value: e.value}
		}
	}
	for _, id := range w.required {
		if e := w.entities[id]; !e.finished {
			return Result{Outcome: OutcomeTimedOutWaitingFinish, EntityID: id, Value: e.value}
		}
	}
	return Result{Outcome: OutcomeTimedOutWaitingFinish, EntityID: w.tracked[0], Value: w.entities[w.tracked[0]].value}
}

// Close releases all subscriptions. It is safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	for _, sub := range subs {
		w.gw.Unsubscribe(sub)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
