package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/brewlogic/internal/audit"
)

// recordAudit writes an audit entry for a command. Failures are logged and
// never fail the request.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	subject, _ := r.Context().Value(ctxKeySubject).(string)
	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     subject,
		Source:     audit.SourceAPI,
		Details:    details,
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("recording audit log failed", "action", action, "entity_id", entityID, "error", err)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, entity_type, entity_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
