package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500

	// Fixed-width UTC timestamps sort lexically in time order.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// SQLiteStore implements brew statistics and run history on SQLite.
//
// Thread Safety: safe for concurrent use; serialisation is left to the
// database connection pool.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// RecordCompletion counts one completed brew of recipeKey and marks it as
// the most recent.
func (s *SQLiteStore) RecordCompletion(ctx context.Context, recipeKey string, at time.Time) error {
	if recipeKey == "" {
		return ErrInvalidKey
	}
	stamp := formatTime(at)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO brew_counts (recipe_key, count, last_completed_at) VALUES (?, 1, ?)
		 ON CONFLICT(recipe_key) DO UPDATE SET
		     count = count + 1,
		     last_completed_at = excluded.last_completed_at`,
		recipeKey,
		stamp,
	); err != nil {
		return fmt.Errorf("updating brew count: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO brew_last (id, recipe_key, completed_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     recipe_key = excluded.recipe_key,
		     completed_at = excluded.completed_at`,
		recipeKey,
		stamp,
	); err != nil {
		return fmt.Errorf("updating last brew: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing brew statistics: %w", err)
	}
	return nil
}

// Summary returns the per-recipe counts and the most recent brew.
func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Counts: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT recipe_key, count FROM brew_counts ORDER BY recipe_key")
	if err != nil {
		return Summary{}, fmt.Errorf("querying brew counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return Summary{}, fmt.Errorf("scanning brew count: %w", err)
		}
		sum.Counts[key] = count
		sum.Total += count
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterating brew counts: %w", err)
	}

	var key, completedAt string
	err = s.db.QueryRowContext(ctx, "SELECT recipe_key, completed_at FROM brew_last WHERE id = 1").
		Scan(&key, &completedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sum, nil
	case err != nil:
		return Summary{}, fmt.Errorf("querying last brew: %w", err)
	}

	at, err := parseTime(completedAt)
	if err != nil {
		return Summary{}, err
	}
	sum.LastRecipe = key
	sum.LastCompletedAt = &at
	return sum, nil
}

// RecordRun stores a finished run. Recording the same run id again
// replaces the earlier row.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	if run.RunID == "" || run.RecipeKey == "" {
		return fmt.Errorf("%w: run id and recipe key are required", ErrInvalidRun)
	}
	switch run.Outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeAborted:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRun, run.Outcome)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO brew_runs
		 (run_id, recipe_key, recipe_name, outcome, steps_done, total_steps,
		  fault_pauses, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.RecipeKey,
		run.RecipeName,
		string(run.Outcome),
		run.StepsDone,
		run.TotalSteps,
		run.FaultPauses,
		run.Error,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRuns returns recent runs, newest first.
//
// Parameters:
//   - limit: Maximum rows to return (default 50, max 500)
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, recipe_key, recipe_name, outcome, steps_done, total_steps,
		        fault_pauses, error, started_at, finished_at
		 FROM brew_runs
		 ORDER BY finished_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var (
			r                   Run
			outcome             string
			started, finishedAt string
		)
		if err := rows.Scan(&r.RunID, &r.RecipeKey, &r.RecipeName, &outcome, &r.StepsDone,
			&r.TotalSteps, &r.FaultPauses, &r.Error, &started, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Outcome = Outcome(outcome)
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes runs that finished more than olderThan ago.
func (s *SQLiteStore) PruneRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx, "DELETE FROM brew_runs WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	if fallback, fbErr := time.Parse(time.RFC3339, value); fbErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}
