package recipe

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the store and registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Repository is the persistence behind a Registry.
type Repository interface {
	List(ctx context.Context) ([]Recipe, error)
	Save(ctx context.Context, r *Recipe) error
	Delete(ctx context.Context, key string) error
}

// Registry caches recipes from a Repository.
//
// The cache is populated by RefreshCache and kept in sync by SaveRecipe and
// DeleteRecipe. Every recipe handed out is a deep copy.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Recipe
	order   []string // keys in repository order
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new recipe registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Recipe),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all recipes from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	recipes, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading recipes: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Recipe, len(recipes))
	r.order = r.order[:0]
	for i := range recipes {
		rec := &recipes[i]
		if _, dup := r.cache[rec.Key]; !dup {
			r.order = append(r.order, rec.Key)
		}
		r.cache[rec.Key] = rec.DeepCopy()
	}

	r.logger.Info("recipe cache refreshed", "count", len(r.cache))
	return nil
}

// GetRecipe retrieves a recipe by key.
func (r *Registry) GetRecipe(_ context.Context, key string) (*Recipe, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[key]
	r.cacheMu.RUnlock()

	if !ok {
		return nil, ErrRecipeNotFound
	}
	return cached.DeepCopy(), nil
}

// ListRecipes returns all cached recipes in repository order.
func (r *Registry) ListRecipes(_ context.Context) []Recipe {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	recipes := make([]Recipe, 0, len(r.order))
	for _, key := range r.order {
		recipes = append(recipes, *r.cache[key].DeepCopy())
	}
	return recipes
}

// Keys returns the cached recipe keys in repository order.
func (r *Registry) Keys() []string {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	return append([]string(nil), r.order...)
}

// SaveRecipe validates and persists a recipe, then updates the cache.
func (r *Registry) SaveRecipe(ctx context.Context, rec *Recipe) error {
	if err := ValidateRecipe(rec); err != nil {
		return err
	}
	if err := r.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("saving recipe: %w", err)
	}

	r.cacheMu.Lock()
	if _, ok := r.cache[rec.Key]; !ok {
		r.order = append(r.order, rec.Key)
	}
	r.cache[rec.Key] = rec.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("recipe saved", "recipe", rec.Key)
	return nil
}

// DeleteRecipe removes a recipe from the repository and the cache.
func (r *Registry) DeleteRecipe(ctx context.Context, key string) error {
	r.cacheMu.RLock()
	_, ok := r.cache[key]
	r.cacheMu.RUnlock()
	if !ok {
		return ErrRecipeNotFound
	}

	if err := r.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting recipe: %w", err)
	}

	r.cacheMu.Lock()
	delete(r.cache, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("recipe deleted", "recipe", key)
	return nil
}

// Count returns the number of cached recipes.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
