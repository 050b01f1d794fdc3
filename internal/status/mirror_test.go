package status

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/brewlogic/internal/brew"
	"github.com/nerrad567/brewlogic/internal/infrastructure/redis"
	"github.com/nerrad567/brewlogic/internal/stats"
)

func newMirrorStore(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "brewlogic:")
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// subscribe listens on channel through a separate connection so that
// publishes never wait on the reader.
func subscribe(t *testing.T, mr *miniredis.Miniredis, channel string) <-chan *goredis.Message {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	ps := rdb.Subscribe(context.Background(), channel)
	t.Cleanup(func() {
		ps.Close()
		rdb.Close()
	})
	if _, err := ps.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return ps.Channel()
}

func TestMirror_StateEventsAndRecentRuns(t *testing.T) {
	store, mr := newMirrorStore(t)
	m := NewMirror(store, 2)

	msgs := subscribe(t, mr, "brewlogic:events")

	m.PublishState(brew.RunState{Status: brew.StatusIdle})
	drain(m.Run)
	var st brew.RunState
	if err := store.GetJSON(context.Background(), KeyRunState, &st); err != nil || st.Status != brew.StatusIdle {
		t.Fatalf("initial state = %+v, %v", st, err)
	}

	m.Listen(brew.Event{Type: brew.EventStarted, State: runState(brew.StatusRunning)})
	m.Listen(brew.Event{Type: brew.EventActionStarted, State: runState(brew.StatusRunning)})
	for range 3 {
		m.Listen(brew.Event{Type: brew.EventCompleted, State: runState(brew.StatusCompleted)})
	}
	drain(m.Run)

	if err := store.GetJSON(context.Background(), KeyRunState, &st); err != nil || st.Status != brew.StatusCompleted {
		t.Errorf("state = %+v, %v; want completed", st, err)
	}

	// brew_started plus three completions; action progress is state-only.
	for i, want := range []brew.EventType{brew.EventStarted, brew.EventCompleted, brew.EventCompleted, brew.EventCompleted} {
		select {
		case msg := <-msgs:
			var ev eventPayload
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.Fatalf("event %d: %v", i, err)
			}
			if ev.Type != want || ev.Recipe != "morning" {
				t.Errorf("event %d = %+v, want %s", i, ev, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not published", i)
		}
	}

	list, err := mr.List("brewlogic:" + KeyRecentRuns)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("recent runs = %d, want capped at 2", len(list))
	}
	var run stats.Run
	if err := json.Unmarshal([]byte(list[0]), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Outcome != stats.OutcomeCompleted || run.StepsDone != 3 {
		t.Errorf("recent run = %+v", run)
	}
}

func TestMirror_NoRecentList(t *testing.T) {
	store, mr := newMirrorStore(t)
	m := NewMirror(store, 0)

	m.Listen(brew.Event{Type: brew.EventAborted, State: runState(brew.StatusIdle)})
	drain(m.Run)

	if mr.Exists("brewlogic:" + KeyRecentRuns) {
		t.Error("recent runs list written with recentRuns = 0")
	}
}

type failingKV struct{ calls int }

func (f *failingKV) SetJSON(context.Context, string, any, time.Duration) error {
	f.calls++
	return errors.New("down")
}

func (f *failingKV) Publish(context.Context, string, any) error {
	f.calls++
	return errors.New("down")
}

func (f *failingKV) PushCapped(context.Context, string, any, int) error {
	f.calls++
	return errors.New("down")
}

func TestMirror_FailuresAreLogged(t *testing.T) {
	kv := &failingKV{}
	logger := &countingLogger{}
	m := NewMirror(kv, 5)
	m.SetLogger(logger)

	m.Listen(brew.Event{Type: brew.EventFailed, State: runState(brew.StatusError)})
	drain(m.Run)

	if kv.calls != 3 {
		t.Errorf("store calls = %d, want 3 (state, event, recent run)", kv.calls)
	}
	if logger.warns != 3 {
		t.Errorf("warnings = %d, want 3", logger.warns)
	}
}

type countingLogger struct {
	noopLogger
	warns int
}

func (l *countingLogger) Warn(string, ...any) { l.warns++ }
