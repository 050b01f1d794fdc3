package stats

import "errors"

var (
	// ErrInvalidRun is returned when a run record is missing required fields.
	ErrInvalidRun = errors.New("stats: invalid run record")

	// ErrInvalidKey is returned for an empty recipe key.
	ErrInvalidKey = errors.New("stats: recipe key is required")
)
