package status

import (
	"context"
	"time"

	"github.com/nerrad567/brewlogic/internal/brew"
	"github.com/nerrad567/brewlogic/internal/stats"
)

const defaultHistoryTimeout = 2 * time.Second

// RunStore persists finished runs. stats.SQLiteStore satisfies it.
type RunStore interface {
	RecordRun(ctx context.Context, run stats.Run) error
}

// History stores every finished run. Writes happen on the goroutine
// running Run, never on the executor's.
type History struct {
	store   RunStore
	timeout time.Duration
	work    *dispatcher
	logger  Logger
}

// NewHistory creates a history listener writing to store. Call Run to
// start writing.
func NewHistory(store RunStore) *History {
	return &History{
		store:   store,
		timeout: defaultHistoryTimeout,
		work:    newDispatcher(defaultQueueSize),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the history listener.
func (h *History) SetLogger(logger Logger) {
	h.logger = logger
}

// Listen implements brew.Listener.
func (h *History) Listen(ev brew.Event) {
	if !ev.Type.Terminal() {
		return
	}
	run := RunFromEvent(ev)
	if ok, n := h.work.submit(func() { h.record(run) }); !ok {
		h.logger.Error("run history queue full, run not recorded", "run_id", run.RunID, "dropped_total", n)
	}
}

// Run writes queued runs until ctx is cancelled, then flushes the rest.
func (h *History) Run(ctx context.Context) {
	h.work.run(ctx)
}

func (h *History) record(run stats.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.store.RecordRun(ctx, run); err != nil {
		h.logger.Error("recording run history failed", "run_id", run.RunID, "error", err)
	}
}

// RunFromEvent converts a terminal event into a history record.
func RunFromEvent(ev brew.Event) stats.Run {
	st := ev.State
	finished := st.UpdatedAt
	if st.FinishedAt != nil {
		finished = *st.FinishedAt
	}
	return stats.Run{
		RunID:       st.RunID,
		RecipeKey:   st.RecipeKey,
		RecipeName:  st.RecipeName,
		Outcome:     outcomeOf(ev.Type),
		StepsDone:   stepsDone(ev),
		TotalSteps:  st.TotalSteps,
		FaultPauses: st.FaultPauses,
		Error:       st.Error,
		StartedAt:   st.StartedAt,
		FinishedAt:  finished,
	}
}

func outcomeOf(t brew.EventType) stats.Outcome {
	switch t {
	case brew.EventCompleted:
		return stats.OutcomeCompleted
	case brew.EventFailed:
		return stats.OutcomeFailed
	default:
		return stats.OutcomeAborted
	}
}

// stepsDone counts steps that finished; the current step of a failed or
// aborted run did not.
func stepsDone(ev brew.Event) int {
	if ev.Type == brew.EventCompleted {
		return ev.State.TotalSteps
	}
	return ev.State.StepIndex
}
