package brew

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/brewlogic/internal/gateway"
)

// FaultCallback receives aggregate fault edges. It runs on the gateway's
// notifying goroutine and must neither block nor call back into the watch.
type FaultCallback func(active bool, fault Fault)

// FaultMonitor watches the configured fault sensors. A sensor reporting an
// active state ("on") is a fault; sensors the gateway does not know are
// ignored.
type FaultMonitor struct {
	gw       gateway.Gateway
	entities []string
}

// NewFaultMonitor creates a monitor for the given sensors, checked in order.
func NewFaultMonitor(gw gateway.Gateway, entities []string) *FaultMonitor {
	return &FaultMonitor{gw: gw, entities: dedupe(entities)}
}

// Entities returns the monitored sensors.
func (m *FaultMonitor) Entities() []string {
	return append([]string(nil), m.entities...)
}

// CheckNow returns the first active fault, or nil when none is active.
func (m *FaultMonitor) CheckNow(ctx context.Context) (*Fault, error) {
	for _, id := range m.entities {
		st, err := m.gw.GetState(ctx, id)
		if errors.Is(err, gateway.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading fault sensor %s: %w", id, err)
		}
		if st.Activity() == gateway.Active {
			f := faultFromState(st)
			return &f, nil
		}
	}
	return nil, nil
}

type faultEntry struct {
	observed bool
	active   bool
	fault    Fault
}

// FaultWatch is a live subscription to all fault sensors.
type FaultWatch struct {
	monitor *FaultMonitor
	cb      FaultCallback

	mu      sync.Mutex
	entries map[string]*faultEntry
	active  bool
	last    Fault
	subs    []gateway.Subscription
	stopped bool
}

// Watch subscribes to every fault sensor and calls cb once per aggregate
// edge: when the first fault appears and when the last one clears. The
// state at subscription time is the baseline and produces no callback.
func (m *FaultMonitor) Watch(ctx context.Context, cb FaultCallback) (*FaultWatch, error) {
	w := &FaultWatch{
		monitor: m,
		cb:      cb,
		entries: make(map[string]*faultEntry, len(m.entities)),
	}
	for _, id := range m.entities {
		w.entries[id] = &faultEntry{}
	}

	for _, id := range m.entities {
		sub, err := m.gw.Subscribe(id, w.handle)
		if err != nil {
			w.Stop()
			return nil, fmt.Errorf("subscribing to fault sensor %s: %w", id, err)
		}
		w.mu.Lock()
		w.subs = append(w.subs, sub)
		w.mu.Unlock()
	}

	for _, id := range m.entities {
		st, err := m.gw.GetState(ctx, id)
		if errors.Is(err, gateway.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			w.Stop()
			return nil, fmt.Errorf("reading fault sensor %s: %w", id, err)
		}
		w.setBaseline(id, st)
	}
	return w, nil
}

func (w *FaultWatch) setBaseline(id string, st gateway.State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.entries[id]
	if e.observed {
		return
	}
	e.active = st.Activity() == gateway.Active
	e.fault = faultFromState(st)
	if f := w.firstActive(); f != nil {
		w.active = true
		w.last = *f
	}
}

func (w *FaultWatch) handle(change gateway.StateChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[change.EntityID]
	if !ok || w.stopped {
		return
	}
	e.observed = true
	e.active = change.New.Activity() == gateway.Active
	e.fault = faultFromState(change.New)

	first := w.firstActive()
	switch {
	case first != nil && !w.active:
		w.active = true
		w.last = *first
		if w.cb != nil {
			w.cb(true, *first)
		}
	case first == nil && w.active:
		w.active = false
		if w.cb != nil {
			w.cb(false, w.last)
		}
	case first != nil:
		w.last = *first
	}
}

// firstActive returns the first active fault in configured order. Callers hold mu.
func (w *FaultWatch) firstActive() *Fault {
	for _, id := range w.monitor.entities {
		if e := w.entries[id]; e.active {
			f := e.fault
			return &f
		}
	}
	return nil
}

// Active returns the first active fault, or nil.
func (w *FaultWatch) Active() *Fault {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstActive()
}

// Stop releases the subscriptions. It is safe to call more than once.
func (w *FaultWatch) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	for _, sub := range subs {
		w.monitor.gw.Unsubscribe(sub)
	}
}

// WaitClear blocks until no fault is active or ctx is done.
func (m *FaultMonitor) WaitClear(ctx context.Context) error {
	cleared := make(chan struct{}, 1)
	w, err := m.Watch(ctx, func(active bool, _ Fault) {
		if active {
			return
		}
		select {
		case cleared <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	if w.Active() == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cleared:
		return nil
	}
}
