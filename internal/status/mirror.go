package status

import (
	"context"
	"time"

	"github.com/nerrad567/brewlogic/internal/brew"
)

// Keys and channels written by Mirror, relative to the store prefix.
const (
	KeyRunState   = "run_state"
	KeyRecentRuns = "recent_runs"
	ChannelEvents = "events"
	mirrorTimeout = 500 * time.Millisecond
)

// KVStore is the subset of the Redis client the mirror needs.
type KVStore interface {
	SetJSON(ctx context.Context, name string, v any, ttl time.Duration) error
	Publish(ctx context.Context, channel string, v any) error
	PushCapped(ctx context.Context, name string, v any, limit int) error
}

// Mirror keeps the current run state, an event channel and a capped list
// of finished runs in a key-value store for services outside MQTT.
//
// Writes happen on the goroutine running Run. Each is bounded by a short
// timeout and failures are logged; the state key always converges on the
// newest snapshot.
type Mirror struct {
	store  KVStore
	recent int
	work   *dispatcher
	logger Logger
}

// NewMirror creates a mirror keeping up to recentRuns finished runs.
// Zero disables the list. Call Run to start writing.
func NewMirror(store KVStore, recentRuns int) *Mirror {
	return &Mirror{
		store:  store,
		recent: recentRuns,
		work:   newDispatcher(defaultQueueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the mirror.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// Listen implements brew.Listener. Action progress only refreshes the
// state key.
func (m *Mirror) Listen(ev brew.Event) {
	m.PublishState(ev.State)
	if ev.Type == brew.EventActionStarted {
		return
	}

	payload := newEventPayload(ev)
	m.submit(ev.Type, func(ctx context.Context) {
		if err := m.store.Publish(ctx, ChannelEvents, payload); err != nil {
			m.logger.Warn("mirroring brew event failed", "type", ev.Type, "error", err)
		}
	})

	if ev.Type.Terminal() && m.recent > 0 {
		run := RunFromEvent(ev)
		m.submit(ev.Type, func(ctx context.Context) {
			if err := m.store.PushCapped(ctx, KeyRecentRuns, run, m.recent); err != nil {
				m.logger.Warn("mirroring finished run failed", "run_id", run.RunID, "error", err)
			}
		})
	}
}

// PublishState replaces the pending state write.
func (m *Mirror) PublishState(st brew.RunState) {
	m.work.setState(func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := m.store.SetJSON(ctx, KeyRunState, st, 0); err != nil {
			m.logger.Warn("mirroring run state failed", "error", err)
		}
	})
}

// Run writes to the store until ctx is cancelled, then flushes what is
// still pending.
func (m *Mirror) Run(ctx context.Context) {
	m.work.run(ctx)
}

func (m *Mirror) submit(t brew.EventType, fn func(context.Context)) {
	ok, n := m.work.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		fn(ctx)
	})
	if !ok {
		m.logger.Warn("mirror queue full, write dropped", "type", t, "dropped_total", n)
	}
}
