package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/brewlogic/internal/audit"
	"github.com/nerrad567/brewlogic/internal/recipe"
)

// stepView is the wire form of a recipe step. Timeouts travel as seconds.
type stepView struct {
	Beverage       *recipe.Beverage      `json:"beverage,omitempty"`
	Activators     []recipe.ActivatorRun `json:"activators,omitempty"`
	TimeoutSeconds int                   `json:"timeout_seconds,omitempty"`
}

// recipeView is the wire form of a recipe.
type recipeView struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Steps       []stepView `json:"steps"`
}

func toRecipeView(r *recipe.Recipe) recipeView {
	v := recipeView{
		Key:         r.Key,
		Name:        r.Name,
		Description: r.Description,
		Steps:       make([]stepView, len(r.Steps)),
	}
	for i, st := range r.Steps {
		v.Steps[i] = stepView{
			Beverage:       st.Beverage,
			Activators:     st.Activators,
			TimeoutSeconds: int(st.Timeout / time.Second),
		}
	}
	return v
}

func (v recipeView) toRecipe() *recipe.Recipe {
	r := &recipe.Recipe{
		Key:         v.Key,
		Name:        v.Name,
		Description: v.Description,
		Steps:       make([]recipe.Step, len(v.Steps)),
	}
	for i, st := range v.Steps {
		r.Steps[i] = recipe.Step{
			Beverage:   st.Beverage,
			Activators: st.Activators,
			Timeout:    time.Duration(st.TimeoutSeconds) * time.Second,
		}
	}
	return r
}

// handleListRecipes returns every recipe in file order.
func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes := s.recipes.ListRecipes(r.Context())
	views := make([]recipeView, len(recipes))
	for i := range recipes {
		views[i] = toRecipeView(&recipes[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipes": views,
		"count":   len(views),
	})
}

// handleGetRecipe returns one recipe.
func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, err := s.recipes.GetRecipe(r.Context(), key)
	if err != nil {
		if errors.Is(err, recipe.ErrRecipeNotFound) {
			writeNotFound(w, "recipe not found: "+key)
			return
		}
		writeInternalError(w, "failed to load recipe")
		return
	}
	writeJSON(w, http.StatusOK, toRecipeView(rec))
}

// handlePutRecipe creates or replaces a recipe. The key comes from the path.
func (s *Server) handlePutRecipe(w http.ResponseWriter, r *http.Request) {
	var view recipeView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	view.Key = chi.URLParam(r, "key")

	rec := view.toRecipe()
	if err := s.recipes.SaveRecipe(r.Context(), rec); err != nil {
		if isValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("saving recipe failed", "recipe", rec.Key, "error", err)
		writeInternalError(w, "failed to save recipe")
		return
	}
	s.logger.Info("recipe saved", "recipe", rec.Key)
	s.recordAudit(r, audit.ActionSave, audit.EntityRecipe, rec.Key, map[string]any{"steps": len(rec.Steps)})
	writeJSON(w, http.StatusOK, toRecipeView(rec))
}

// handleDeleteRecipe removes a recipe.
func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.recipes.DeleteRecipe(r.Context(), key); err != nil {
		if errors.Is(err, recipe.ErrRecipeNotFound) {
			writeNotFound(w, "recipe not found: "+key)
			return
		}
		s.logger.Error("deleting recipe failed", "recipe", key, "error", err)
		writeInternalError(w, "failed to delete recipe")
		return
	}
	s.logger.Info("recipe deleted", "recipe", key)
	s.recordAudit(r, audit.ActionDelete, audit.EntityRecipe, key, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleReloadRecipes re-reads the recipe file.
func (s *Server) handleReloadRecipes(w http.ResponseWriter, r *http.Request) {
	if err := s.recipes.RefreshCache(r.Context()); err != nil {
		s.logger.Error("reloading recipes failed", "error", err)
		writeInternalError(w, "failed to reload recipes")
		return
	}
	count := len(s.recipes.ListRecipes(r.Context()))
	s.logger.Info("recipes reloaded", "count", count)
	s.recordAudit(r, audit.ActionReload, audit.EntityRecipes, "", map[string]any{"count": count})
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func isValidationError(err error) bool {
	return errors.Is(err, recipe.ErrInvalidRecipe) ||
		errors.Is(err, recipe.ErrInvalidStep) ||
		errors.Is(err, recipe.ErrInvalidKey)
}
