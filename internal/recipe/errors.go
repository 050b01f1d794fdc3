package recipe

import "errors"

// Domain errors for the recipe package.
//
//	if errors.Is(err, recipe.ErrRecipeNotFound) {
//	    // unknown key
//	}
var (
	// ErrRecipeNotFound is returned when a recipe key does not exist.
	ErrRecipeNotFound = errors.New("recipe: not found")

	// ErrInvalidRecipe is returned when recipe validation fails.
	ErrInvalidRecipe = errors.New("recipe: invalid")

	// ErrInvalidStep is returned when a step has no work or bad values.
	ErrInvalidStep = errors.New("recipe: invalid step")

	// ErrInvalidKey is returned when a recipe key is empty or malformed.
	ErrInvalidKey = errors.New("recipe: invalid key")
)
