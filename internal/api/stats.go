package api

import (
	"net/http"
	"strconv"
)

// handleStatsSummary returns completion counts and the most recent brew.
func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeUnavailable(w, "statistics are not configured")
		return
	}
	sum, err := s.stats.Summary(r.Context())
	if err != nil {
		s.logger.Error("reading brew statistics failed", "error", err)
		writeInternalError(w, "failed to read statistics")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleListRuns returns recent runs, newest first. ?limit= caps the count.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeUnavailable(w, "statistics are not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.stats.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}
