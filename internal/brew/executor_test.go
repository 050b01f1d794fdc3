package brew

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/brewlogic/internal/gateway"
	"github.com/nerrad567/brewlogic/internal/notify"
	"github.com/nerrad567/brewlogic/internal/recipe"
)

type executorFixture struct {
	gw       *gateway.Memory
	exec     *Executor
	notifier *mockNotifier
	stats    *mockStats
	events   *eventRecorder
}

func newExecutorFixture(t *testing.T, cfg Config, recipes ...*recipe.Recipe) *executorFixture {
	t.Helper()
	gw := newAppliance(t)
	src := recipeMap{}
	for _, r := range recipes {
		src[r.Key] = r
	}

	f := &executorFixture{
		gw:       gw,
		exec:     NewExecutor(gw, src, cfg),
		notifier: &mockNotifier{},
		stats:    &mockStats{},
		events:   &eventRecorder{},
	}
	f.exec.SetNotifier(f.notifier)
	f.exec.SetStatistics(f.stats)
	f.exec.AddListener(f.events.listen)
	t.Cleanup(func() { _ = f.exec.Abort(context.Background()) })
	return f
}

func (f *executorFixture) start(t *testing.T, key string) RunState {
	t.Helper()
	st, err := f.exec.Start(context.Background(), key)
	if err != nil {
		t.Fatalf("Start(%q) error = %v", key, err)
	}
	return st
}

func (f *executorFixture) waitStatus(t *testing.T, want Status) RunState {
	t.Helper()
	waitFor(t, "status "+string(want), func() bool { return f.exec.RunState().Status == want })
	return f.exec.RunState()
}

// waitNotified waits until a notification of kind was sent. Terminal
// notifications go out after statistics and listeners.
func (f *executorFixture) waitNotified(t *testing.T, kind notify.Kind) {
	t.Helper()
	waitFor(t, "notification "+string(kind), func() bool {
		for _, k := range f.notifier.kinds() {
			if k == kind {
				return true
			}
		}
		return false
	})
}

func beverageStep(name string) recipe.Step {
	return recipe.Step{Beverage: &recipe.Beverage{Name: name}}
}

func TestExecutor_FaultFreeRunVisitsStepsInOrder(t *testing.T) {
	r := &recipe.Recipe{
		Key:  "morning",
		Name: "Morning",
		Steps: []recipe.Step{
			beverageStep("Espresso"),
			{
				Activators: []recipe.ActivatorRun{{EntityID: rinseSwitch, Count: 1}},
				Beverage:   &recipe.Beverage{Name: "LatteMacchiato", Double: true},
			},
			{Activators: []recipe.ActivatorRun{{EntityID: milkSwitch, Count: 2}}},
		},
	}
	f := newExecutorFixture(t, testConfig(), r)

	st := f.start(t, "morning")
	if st.RunID == "" || st.TotalSteps != 3 || st.RecipeName != "Morning" {
		t.Errorf("Start() snapshot = %+v", st)
	}

	final := f.waitStatus(t, StatusCompleted)
	f.waitNotified(t, notify.KindCompleted)
	if final.FinishedAt == nil || final.Action != nil {
		t.Errorf("final state = %+v, want finished with no action", final)
	}

	var steps []int
	for _, ev := range f.events.snapshot() {
		if ev.Type == EventStepStarted {
			steps = append(steps, ev.State.StepIndex)
		}
	}
	if !reflect.DeepEqual(steps, []int{0, 1, 2}) {
		t.Errorf("step order = %v, want [0 1 2]", steps)
	}
	if n := f.events.count(EventCompleted); n != 1 {
		t.Errorf("completed events = %d, want 1", n)
	}
	if n := f.stats.count(); n != 1 {
		t.Errorf("statistics recorded %d times, want 1", n)
	}
	if kinds := f.notifier.kinds(); !reflect.DeepEqual(kinds, []notify.Kind{notify.KindCompleted}) {
		t.Errorf("notifications = %v, want [completed]", kinds)
	}

	// Activators run before the beverage within a step.
	var order []string
	for _, c := range f.gw.Commands() {
		order = append(order, c.EntityID)
	}
	want := []string{
		drinkSelect, doubleSwitch, startSwitch,
		rinseSwitch, drinkSelect, doubleSwitch, startSwitch,
		milkSwitch, milkSwitch,
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("command order = %v\nwant %v", order, want)
	}
	if f.gw.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", f.gw.SubscriptionCount())
	}
}

func TestExecutor_ZeroCountActivatorIsSkipped(t *testing.T) {
	r := &recipe.Recipe{
		Key:  "rinse",
		Name: "Rinse",
		Steps: []recipe.Step{{Activators: []recipe.ActivatorRun{
			{EntityID: rinseSwitch, Count: 2},
			{EntityID: milkSwitch, Count: 0},
		}}},
	}
	f := newExecutorFixture(t, testConfig(), r)

	f.start(t, "rinse")
	f.waitStatus(t, StatusCompleted)

	if n := countCommands(f.gw, rinseSwitch, gateway.StateOn); n != 2 {
		t.Errorf("rinse commanded %d times, want 2", n)
	}
	if n := countCommands(f.gw, milkSwitch, gateway.StateOn); n != 0 {
		t.Errorf("milk commanded %d times, want 0", n)
	}
	for _, c := range f.gw.Commands() {
		if c.EntityID == drinkSelect || c.EntityID == startSwitch {
			t.Errorf("unexpected beverage command %+v", c)
		}
	}
}

func TestExecutor_RejectsBeforeAnyChange(t *testing.T) {
	r := &recipe.Recipe{
		Key:   "broken",
		Name:  "Broken",
		Steps: []recipe.Step{{Activators: []recipe.ActivatorRun{{EntityID: "switch.coffee_missing", Count: 1}}}},
	}
	f := newExecutorFixture(t, testConfig(), r)

	if _, err := f.exec.Start(context.Background(), "nope"); !errors.Is(err, ErrUnknownRecipe) {
		t.Errorf("Start(nope) error = %v, want ErrUnknownRecipe", err)
	}
	if _, err := f.exec.Start(context.Background(), "broken"); !errors.Is(err, ErrMissingEntity) {
		t.Errorf("Start(broken) error = %v, want ErrMissingEntity", err)
	}

	if st := f.exec.RunState(); st.Status != StatusIdle || st.RunID != "" {
		t.Errorf("RunState() = %+v, want untouched idle state", st)
	}
	if evs := f.events.snapshot(); len(evs) != 0 {
		t.Errorf("events = %+v, want none", evs)
	}
	if cmds := f.gw.Commands(); len(cmds) != 0 {
		t.Errorf("commands = %+v, want none", cmds)
	}
}

// faultOnFirstStart reports a fault the first time the start switch is
// commanded, leaving the switch on. Later starts cycle instantly.
func faultOnFirstStart() gateway.CommandHook {
	var (
		mu    sync.Mutex
		calls int
	)
	cycle := instantCycle()
	return func(m *gateway.Memory, id, value string) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()

		if !first {
			return cycle(m, id, value)
		}
		if err := m.Report(id, gateway.StateOn); err != nil {
			return err
		}
		return m.Report(waterFault, gateway.StateOn)
	}
}

func TestExecutor_FaultRestartsCurrentStep(t *testing.T) {
	r := &recipe.Recipe{
		Key:  "rinse_espresso",
		Name: "Rinse + Espresso",
		Steps: []recipe.Step{{
			Activators: []recipe.ActivatorRun{{EntityID: rinseSwitch, Count: 1}},
			Beverage:   &recipe.Beverage{Name: "Espresso"},
		}},
	}
	f := newExecutorFixture(t, testConfig(), r)
	f.gw.OnCommand(startSwitch, faultOnFirstStart())

	f.start(t, "rinse_espresso")
	paused := f.waitStatus(t, StatusWaitingFaultClear)
	if paused.LastFault != "Water tank empty" || paused.StepIndex != 0 || paused.FaultPauses != 1 {
		t.Errorf("paused state = %+v", paused)
	}

	// Fix the appliance: the brew aborted and the tank is refilled.
	_ = f.gw.Report(startSwitch, gateway.StateOff)
	_ = f.gw.Report(waterFault, gateway.StateOff)

	final := f.waitStatus(t, StatusCompleted)
	f.waitNotified(t, notify.KindCompleted)
	if final.StepIndex != 0 || final.FaultPauses != 1 {
		t.Errorf("final state = %+v", final)
	}

	// The whole step ran again, starting from its first action.
	if n := countCommands(f.gw, rinseSwitch, gateway.StateOn); n != 2 {
		t.Errorf("rinse commanded %d times, want 2", n)
	}
	if n := countCommands(f.gw, startSwitch, gateway.StateOn); n != 2 {
		t.Errorf("start commanded %d times, want 2", n)
	}

	wantKinds := []notify.Kind{notify.KindPaused, notify.KindResumed, notify.KindCompleted}
	if kinds := f.notifier.kinds(); !reflect.DeepEqual(kinds, wantKinds) {
		t.Errorf("notifications = %v, want %v", kinds, wantKinds)
	}
	if f.events.count(EventPaused) != 1 || f.events.count(EventResumed) != 1 {
		t.Errorf("events = %+v", f.events.snapshot())
	}
	if n := f.stats.count(); n != 1 {
		t.Errorf("statistics recorded %d times, want 1", n)
	}
}

func TestExecutor_FaultBeforeStepIssuesNoCommand(t *testing.T) {
	r := &recipe.Recipe{Key: "espresso", Name: "Espresso", Steps: []recipe.Step{beverageStep("Espresso")}}
	f := newExecutorFixture(t, testConfig(), r)
	_ = f.gw.Report(trayFault, gateway.StateOn)

	f.start(t, "espresso")
	st := f.waitStatus(t, StatusWaitingFaultClear)
	if st.LastFault != "Drip tray full" {
		t.Errorf("LastFault = %q", st.LastFault)
	}
	if cmds := f.gw.Commands(); len(cmds) != 0 {
		t.Errorf("commands while faulted = %+v, want none", cmds)
	}

	_ = f.gw.Report(trayFault, gateway.StateOff)
	f.waitStatus(t, StatusCompleted)
	if n := countCommands(f.gw, startSwitch, gateway.StateOn); n != 1 {
		t.Errorf("start commanded %d times, want 1", n)
	}
}

func TestExecutor_AbortWhileWaitingForFault(t *testing.T) {
	r := &recipe.Recipe{Key: "espresso", Name: "Espresso", Steps: []recipe.Step{beverageStep("Espresso")}}
	f := newExecutorFixture(t, testConfig(), r)
	_ = f.gw.Report(waterFault, gateway.StateOn)

	f.start(t, "espresso")
	f.waitStatus(t, StatusWaitingFaultClear)

	if err := f.exec.Abort(context.Background()); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	st := f.exec.RunState()
	if st.Status != StatusIdle || st.FinishedAt == nil {
		t.Errorf("RunState() after abort = %+v, want idle", st)
	}

	wantKinds := []notify.Kind{notify.KindPaused, notify.KindAborted}
	if kinds := f.notifier.kinds(); !reflect.DeepEqual(kinds, wantKinds) {
		t.Errorf("notifications = %v, want %v", kinds, wantKinds)
	}
	if n := f.stats.count(); n != 0 {
		t.Errorf("statistics recorded %d times, want 0", n)
	}
	if f.gw.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after abort, want 0", f.gw.SubscriptionCount())
	}

	// Clearing the fault later does not revive the run.
	_ = f.gw.Report(waterFault, gateway.StateOff)
	time.Sleep(30 * time.Millisecond)
	if st := f.exec.RunState(); st.Status != StatusIdle {
		t.Errorf("status = %s after late clearance, want idle", st.Status)
	}
}

func TestExecutor_AbortWhileRunning(t *testing.T) {
	r := &recipe.Recipe{
		Key:   "long",
		Name:  "Long",
		Steps: []recipe.Step{{Beverage: &recipe.Beverage{Name: "Espresso"}, Timeout: time.Minute}},
	}
	f := newExecutorFixture(t, testConfig(), r)
	f.gw.OnCommand(startSwitch, latchOn())

	f.start(t, "long")
	waitFor(t, "start command", func() bool { return countCommands(f.gw, startSwitch, gateway.StateOn) == 1 })

	began := time.Now()
	if err := f.exec.Abort(context.Background()); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Errorf("Abort() took %v", elapsed)
	}
	if st := f.exec.RunState(); st.Status != StatusIdle {
		t.Errorf("status = %s, want idle", st.Status)
	}
	if f.events.count(EventAborted) != 1 || f.events.count(EventCompleted) != 0 {
		t.Errorf("events = %+v", f.events.snapshot())
	}
	for _, k := range f.notifier.kinds() {
		if k == notify.KindCompleted {
			t.Error("completion notified after abort")
		}
	}
	if f.gw.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after abort, want 0", f.gw.SubscriptionCount())
	}

	// Abort is idempotent.
	if err := f.exec.Abort(context.Background()); err != nil {
		t.Errorf("second Abort() error = %v", err)
	}
	if f.events.count(EventAborted) != 1 {
		t.Errorf("aborted events = %d after second abort, want 1", f.events.count(EventAborted))
	}
}

func TestExecutor_StartReplacesActiveRun(t *testing.T) {
	long := &recipe.Recipe{
		Key:   "long",
		Name:  "Long",
		Steps: []recipe.Step{{Beverage: &recipe.Beverage{Name: "Espresso"}, Timeout: time.Minute}},
	}
	clean := &recipe.Recipe{
		Key:   "clean",
		Name:  "Clean",
		Steps: []recipe.Step{{Activators: []recipe.ActivatorRun{{EntityID: milkSwitch, Count: 1}}}},
	}
	f := newExecutorFixture(t, testConfig(), long, clean)
	f.gw.OnCommand(startSwitch, latchOn())

	first := f.start(t, "long")
	waitFor(t, "start command", func() bool { return countCommands(f.gw, startSwitch, gateway.StateOn) == 1 })

	second := f.start(t, "clean")
	if second.RunID == first.RunID {
		t.Fatal("replacement run reused the run id")
	}

	final := f.waitStatus(t, StatusCompleted)
	f.waitNotified(t, notify.KindCompleted)
	if final.RunID != second.RunID || final.RecipeKey != "clean" {
		t.Errorf("final state = %+v, want the clean run", final)
	}

	var sequence []EventType
	for _, ev := range f.events.snapshot() {
		if ev.Type == EventStarted || ev.Type.Terminal() {
			sequence = append(sequence, ev.Type)
		}
	}
	want := []EventType{EventStarted, EventAborted, EventStarted, EventCompleted}
	if !reflect.DeepEqual(sequence, want) {
		t.Errorf("lifecycle events = %v, want %v", sequence, want)
	}
	f.stats.mu.Lock()
	completions := append([]string(nil), f.stats.completions...)
	f.stats.mu.Unlock()
	if !reflect.DeepEqual(completions, []string{"clean"}) {
		t.Errorf("completions = %v, want [clean]", completions)
	}
}

func TestExecutor_ResolutionFailure(t *testing.T) {
	r := &recipe.Recipe{Key: "cortado", Name: "Cortado", Steps: []recipe.Step{beverageStep("Cortado")}}
	f := newExecutorFixture(t, testConfig(), r)

	f.start(t, "cortado")
	st := f.waitStatus(t, StatusError)
	f.waitNotified(t, notify.KindFailed)
	if !strings.Contains(st.Error, `"Cortado"`) || !strings.Contains(st.Error, "LatteMacchiato, Espresso") {
		t.Errorf("Error = %q, want the valid options listed", st.Error)
	}
	if n := countCommands(f.gw, startSwitch, gateway.StateOn); n != 0 {
		t.Errorf("start commanded %d times, want 0", n)
	}
	if kinds := f.notifier.kinds(); !reflect.DeepEqual(kinds, []notify.Kind{notify.KindFailed}) {
		t.Errorf("notifications = %v, want [failed]", kinds)
	}
	if f.stats.count() != 0 {
		t.Error("statistics recorded for a failed run")
	}
}

func TestExecutor_TimeoutFailsRun(t *testing.T) {
	r := &recipe.Recipe{
		Key:   "espresso",
		Name:  "Espresso",
		Steps: []recipe.Step{{Beverage: &recipe.Beverage{Name: "Espresso"}, Timeout: 30 * time.Millisecond}},
	}
	f := newExecutorFixture(t, testConfig(), r)
	f.gw.OnCommand(startSwitch, ignore())

	f.start(t, "espresso")
	st := f.waitStatus(t, StatusError)
	f.waitNotified(t, notify.KindFailed)
	if !strings.Contains(st.Error, "likely wrong beverage name") {
		t.Errorf("Error = %q", st.Error)
	}
	if f.events.count(EventFailed) != 1 {
		t.Errorf("failed events = %d, want 1", f.events.count(EventFailed))
	}
}

func TestExecutor_FaultPauseLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFaultPauses = 1
	r := &recipe.Recipe{Key: "espresso", Name: "Espresso", Steps: []recipe.Step{beverageStep("Espresso")}}
	f := newExecutorFixture(t, cfg, r)

	// Every start trips the water sensor.
	f.gw.OnCommand(startSwitch, func(m *gateway.Memory, id, value string) error {
		_ = m.Report(id, gateway.StateOn)
		return m.Report(waterFault, gateway.StateOn)
	})

	f.start(t, "espresso")
	f.waitStatus(t, StatusWaitingFaultClear)
	_ = f.gw.Report(startSwitch, gateway.StateOff)
	_ = f.gw.Report(waterFault, gateway.StateOff)

	st := f.waitStatus(t, StatusError)
	if !strings.Contains(st.Error, "fault pause limit") || st.FaultPauses != 1 {
		t.Errorf("final state = %+v", st)
	}
}

func TestExecutor_NotifierFailureDoesNotAffectRun(t *testing.T) {
	r := &recipe.Recipe{Key: "espresso", Name: "Espresso", Steps: []recipe.Step{beverageStep("Espresso")}}
	f := newExecutorFixture(t, testConfig(), r)
	f.notifier.err = errors.New("push service down")

	f.start(t, "espresso")
	f.waitStatus(t, StatusCompleted)
	f.waitNotified(t, notify.KindCompleted)
	if f.stats.count() != 1 {
		t.Errorf("statistics recorded %d times, want 1", f.stats.count())
	}
}

func TestExecutor_AbortWhenIdle(t *testing.T) {
	f := newExecutorFixture(t, testConfig())

	if err := f.exec.Abort(context.Background()); err != nil {
		t.Errorf("Abort() error = %v", err)
	}
	if st := f.exec.RunState(); st.Status != StatusIdle {
		t.Errorf("status = %s, want idle", st.Status)
	}
	if evs := f.events.snapshot(); len(evs) != 0 {
		t.Errorf("events = %+v, want none", evs)
	}
}

func TestExecutor_RunStateIsSnapshot(t *testing.T) {
	r := &recipe.Recipe{
		Key:   "long",
		Name:  "Long",
		Steps: []recipe.Step{{Beverage: &recipe.Beverage{Name: "Espresso"}, Timeout: time.Minute}},
	}
	f := newExecutorFixture(t, testConfig(), r)
	f.gw.OnCommand(startSwitch, latchOn())

	f.start(t, "long")
	waitFor(t, "beverage action", func() bool { return f.exec.RunState().Action != nil })

	st := f.exec.RunState()
	if st.Action.Kind != ActionBeverage || st.Action.Target != "Espresso" {
		t.Errorf("Action = %+v", st.Action)
	}
	st.Action.Target = "mutated"
	if f.exec.RunState().Action.Target != "Espresso" {
		t.Error("mutating a snapshot changed the executor state")
	}
}

func TestExecutor_SlowNotifierIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyTimeout = 20 * time.Millisecond
	r := &recipe.Recipe{Key: "espresso", Name: "Espresso", Steps: []recipe.Step{beverageStep("Espresso")}}
	f := newExecutorFixture(t, cfg, r)
	f.notifier.delay = time.Minute

	logger := &recordingLogger{}
	f.exec.SetLogger(logger)

	f.start(t, "espresso")
	f.waitStatus(t, StatusCompleted)
	waitFor(t, "notification failure logged", func() bool {
		return logger.has("WARN", "notification failed")
	})
	if f.stats.count() != 1 {
		t.Errorf("statistics recorded %d times, want 1", f.stats.count())
	}
}
