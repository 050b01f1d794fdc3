package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *changeRecorder) handle(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.New.Value
	}
	return out
}

func TestMemory_GetState(t *testing.T) {
	m := NewMemory()
	m.Add("switch.start", StateOff, map[string]any{"friendly_name": "Start"})

	st, err := m.GetState(context.Background(), "switch.start")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if st.Value != StateOff || st.FriendlyName() != "Start" {
		t.Errorf("state = %+v", st)
	}

	if _, err := m.GetState(context.Background(), "switch.missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("GetState(missing) error = %v, want ErrEntityNotFound", err)
	}
}

func TestMemory_SetStateDefault(t *testing.T) {
	m := NewMemory()
	m.Add("select.drink", "Espresso", nil)

	rec := &changeRecorder{}
	sub, err := m.Subscribe("select.drink", rec.handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer m.Unsubscribe(sub)

	if err := m.SetState(context.Background(), "select.drink", "Americano"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	got := rec.values()
	if len(got) != 1 || got[0] != "Americano" {
		t.Errorf("changes = %v, want [Americano]", got)
	}
	if rec.changes[0].Old == nil || rec.changes[0].Old.Value != "Espresso" {
		t.Errorf("old state = %+v, want Espresso", rec.changes[0].Old)
	}

	cmds := m.Commands()
	if len(cmds) != 1 || cmds[0].EntityID != "select.drink" || cmds[0].Value != "Americano" {
		t.Errorf("commands = %+v", cmds)
	}
}

func TestMemory_SetStateErrors(t *testing.T) {
	m := NewMemory()
	m.Add("switch.start", StateOff, nil)

	if err := m.SetState(context.Background(), "switch.missing", StateOn); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("missing entity error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.SetState(ctx, "switch.start", StateOn); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("cancelled context error = %v", err)
	}

	m.OnCommand("switch.start", func(*Memory, string, string) error { return errors.New("jammed") })
	if err := m.SetState(context.Background(), "switch.start", StateOn); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("hook failure error = %v", err)
	}
}

func TestMemory_CommandHookCycle(t *testing.T) {
	m := NewMemory()
	m.Add("switch.start", StateOff, nil)
	m.OnCommand("switch.start", func(m *Memory, id, _ string) error {
		if err := m.Report(id, StateOn); err != nil {
			return err
		}
		return m.Report(id, StateOff)
	})

	rec := &changeRecorder{}
	sub, _ := m.Subscribe("switch.start", rec.handle)
	defer m.Unsubscribe(sub)

	if err := m.SetState(context.Background(), "switch.start", StateOn); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	got := rec.values()
	if len(got) != 2 || got[0] != StateOn || got[1] != StateOff {
		t.Errorf("changes = %v, want [on off]", got)
	}
}

func TestMemory_Unsubscribe(t *testing.T) {
	m := NewMemory()
	m.Add("switch.start", StateOff, nil)

	rec := &changeRecorder{}
	sub, _ := m.Subscribe("switch.start", rec.handle)
	if m.SubscriptionCount() != 1 {
		t.Fatalf("SubscriptionCount() = %d, want 1", m.SubscriptionCount())
	}

	m.Unsubscribe(sub)
	m.Unsubscribe(sub)
	if m.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe, want 0", m.SubscriptionCount())
	}

	_ = m.Report("switch.start", StateOn)
	if len(rec.values()) != 0 {
		t.Error("handler called after unsubscribe")
	}

	if _, err := m.Subscribe("switch.start", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Subscribe(nil) error = %v", err)
	}
}

func TestMemory_HandlerMayUnsubscribe(t *testing.T) {
	m := NewMemory()
	m.Add("switch.start", StateOff, nil)

	var sub Subscription
	calls := 0
	sub, _ = m.Subscribe("switch.start", func(StateChange) {
		calls++
		m.Unsubscribe(sub)
	})

	_ = m.Report("switch.start", StateOn)
	_ = m.Report("switch.start", StateOff)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
