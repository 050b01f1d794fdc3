package status

import (
	"time"

	"github.com/nerrad567/brewlogic/internal/brew"
)

// PointWriter is the subset of the InfluxDB client the recorder needs.
type PointWriter interface {
	WriteBrewRun(recipeKey, outcome string, duration time.Duration, stepsDone, faultPauses int)
	WriteFault(recipeKey, description string, stepIndex int)
	WriteStep(recipeKey string, stepIndex, totalSteps int)
}

// Recorder writes brew telemetry points.
type Recorder struct {
	writer PointWriter
}

// NewRecorder creates a recorder writing through w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{writer: w}
}

// Listen implements brew.Listener.
func (r *Recorder) Listen(ev brew.Event) {
	st := ev.State
	switch ev.Type {
	case brew.EventStepStarted:
		r.writer.WriteStep(st.RecipeKey, st.StepIndex, st.TotalSteps)
	case brew.EventPaused:
		r.writer.WriteFault(st.RecipeKey, st.LastFault, st.StepIndex)
	case brew.EventCompleted, brew.EventFailed, brew.EventAborted:
		r.writer.WriteBrewRun(st.RecipeKey, string(outcomeOf(ev.Type)), st.UpdatedAt.Sub(st.StartedAt),
			stepsDone(ev), st.FaultPauses)
	}
}
