// Package audit records operator commands in the audit_logs table and
// queries them back for the activity history.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Actions recorded in the trail.
const (
	ActionStart  = "start"
	ActionAbort  = "abort"
	ActionSave   = "save"
	ActionDelete = "delete"
	ActionReload = "reload"
)

// Entity types recorded in the trail.
const (
	EntityRecipe  = "recipe"
	EntityRun     = "run"
	EntityRecipes = "recipes"
)

// SourceAPI marks commands received over the HTTP API.
const SourceAPI = "api"

// AuditLog is one entry in the trail.
type AuditLog struct { //nolint:revive // reads better than audit.Log at call sites
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries for List. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string // recipe key or run ID
	Limit      int    // default 50, capped at 200
	Offset     int
}

// ListResult is one page of entries.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository persists and queries the trail.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db. The audit_logs
// migration must already be applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Create inserts entry, filling in ID, CreatedAt and Source when unset.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.Action == "" || entry.EntityType == "" {
		return errors.New("audit: action and entity type are required")
	}
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Source == "" {
		entry.Source = SourceAPI
	}

	var details sql.NullString
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType,
		optional(entry.EntityID), optional(entry.UserID),
		entry.Source, details,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log %s: %w", entry.ID, err)
	}
	return nil
}

// optional maps "" to NULL.
func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// where renders the filter's equality conditions.
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	for _, c := range []struct{ col, val string }{
		{"action", f.Action},
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of matching entries, newest first, with the total
// number of matches.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultLimit
	case filter.Limit > maxLimit:
		filter.Limit = maxLimit
	}
	filter.Offset = max(filter.Offset, 0)

	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, action, entity_type, entity_id, user_id, source, details, created_at FROM audit_logs"+
			where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	res := &ListResult{Logs: []AuditLog{}, Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res.Logs = append(res.Logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return res, nil
}

func scanEntry(rows *sql.Rows) (AuditLog, error) {
	var (
		e                         AuditLog
		entityID, userID, details sql.NullString
		created                   string
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &userID, &e.Source, &details, &created); err != nil {
		return e, fmt.Errorf("scanning audit log: %w", err)
	}
	e.EntityID = entityID.String
	e.UserID = userID.String
	if details.Valid {
		// Undecodable details are dropped rather than failing the page.
		_ = json.Unmarshal([]byte(details.String), &e.Details)
	}

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return e, fmt.Errorf("audit log %s: bad created_at %q: %w", e.ID, created, err)
	}
	e.CreatedAt = t
	return e, nil
}
