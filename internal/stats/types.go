package stats

import "time"

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// Summary aggregates completed brews.
type Summary struct {
	// LastRecipe is the key of the most recently completed recipe.
	LastRecipe string `json:"last_recipe,omitempty"`

	LastCompletedAt *time.Time     `json:"last_completed_at,omitempty"`
	Counts          map[string]int `json:"counts"`
	Total           int            `json:"total"`
}

// Run is one finished run in the history.
type Run struct {
	RunID       string    `json:"run_id"`
	RecipeKey   string    `json:"recipe_key"`
	RecipeName  string    `json:"recipe_name"`
	Outcome     Outcome   `json:"outcome"`
	StepsDone   int       `json:"steps_done"`
	TotalSteps  int       `json:"total_steps"`
	FaultPauses int       `json:"fault_pauses"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration is the wall time between start and finish.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
