// Package stats persists brew statistics and run history in SQLite.
//
// Two kinds of records are kept:
//   - Completion counters: per-recipe count plus the most recent completed
//     brew. The executor writes these exactly once per completed run.
//   - Run history: one row per run that ended (completed, failed or
//     aborted), written by a listener on executor events.
//
// The schema lives in the top-level migrations package.
package stats
