package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/brewlogic/internal/audit"
	"github.com/nerrad567/brewlogic/internal/brew"
)

// snapshotEvent marks the state sent to a client right after it subscribes.
const snapshotEvent brew.EventType = "snapshot"

// startRequest is the request body for POST /brew/start.
type startRequest struct {
	Recipe string `json:"recipe"`
}

// faultResponse is the response body for GET /brew/fault.
type faultResponse struct {
	Active bool        `json:"active"`
	Fault  *brew.Fault `json:"fault,omitempty"`
}

// handleGetRunState returns the current run record.
func (s *Server) handleGetRunState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.brew.RunState())
}

// handleStartBrew starts the recipe named in the request body.
func (s *Server) handleStartBrew(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Recipe == "" {
		writeBadRequest(w, "recipe is required")
		return
	}
	s.startRecipe(w, r, req.Recipe)
}

// handleStartRecipe starts the recipe named in the path.
func (s *Server) handleStartRecipe(w http.ResponseWriter, r *http.Request) {
	s.startRecipe(w, r, chi.URLParam(r, "key"))
}

func (s *Server) startRecipe(w http.ResponseWriter, r *http.Request, key string) {
	st, err := s.brew.Start(r.Context(), key)
	switch {
	case errors.Is(err, brew.ErrUnknownRecipe):
		writeNotFound(w, "recipe not found: "+key)
	case errors.Is(err, brew.ErrMissingEntity):
		writeConflict(w, err.Error())
	case err != nil:
		s.logger.Error("starting recipe failed", "recipe", key, "error", err)
		writeInternalError(w, "failed to start recipe")
	default:
		s.recordAudit(r, audit.ActionStart, audit.EntityRecipe, key, map[string]any{"run_id": st.RunID})
		writeJSON(w, http.StatusAccepted, st)
	}
}

// handleAbortBrew aborts the active run, if any.
func (s *Server) handleAbortBrew(w http.ResponseWriter, r *http.Request) {
	prev := s.brew.RunState()
	if err := s.brew.Abort(r.Context()); err != nil {
		s.logger.Error("aborting recipe failed", "error", err)
		writeInternalError(w, "failed to abort recipe")
		return
	}
	if prev.Status.Active() {
		s.recordAudit(r, audit.ActionAbort, audit.EntityRun, prev.RunID, map[string]any{"recipe": prev.RecipeKey})
	}
	writeJSON(w, http.StatusOK, s.brew.RunState())
}

// handleGetFault reports the first active appliance fault.
func (s *Server) handleGetFault(w http.ResponseWriter, r *http.Request) {
	if s.faults == nil {
		writeUnavailable(w, "fault monitoring is not configured")
		return
	}
	f, err := s.faults.CheckNow(r.Context())
	if err != nil {
		s.logger.Error("checking faults failed", "error", err)
		writeInternalError(w, "failed to read fault sensors")
		return
	}
	writeJSON(w, http.StatusOK, faultResponse{Active: f != nil, Fault: f})
}

// brewSnapshot is the state sent to a client subscribing to ChannelBrewState.
func (s *Server) brewSnapshot() any {
	return brew.Event{Type: snapshotEvent, State: s.brew.RunState()}
}
