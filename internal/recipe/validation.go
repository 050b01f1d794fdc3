package recipe

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxSteps          = 50
	maxRepeatCount    = 20

	// MinStepTimeout and MaxStepTimeout bound a per-step timeout override.
	MinStepTimeout = 10 * time.Second
	MaxStepTimeout = 3600 * time.Second

	keyPattern = `^[a-z0-9]+(?:[_-][a-z0-9]+)*$`
)

var keyRegex = regexp.MustCompile(keyPattern)

// ValidateRecipe checks a recipe and returns the first problem found.
func ValidateRecipe(r *Recipe) error {
	if r == nil {
		return ErrInvalidRecipe
	}
	if err := ValidateKey(r.Key); err != nil {
		return err
	}

	name := strings.TrimSpace(r.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecipe)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRecipe, maxNameLength)
	}
	if len(r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRecipe, maxDescriptionLen)
	}

	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidRecipe)
	}
	if len(r.Steps) > maxSteps {
		return fmt.Errorf("%w: exceeds maximum of %d steps", ErrInvalidRecipe, maxSteps)
	}
	for i := range r.Steps {
		if err := ValidateStep(&r.Steps[i]); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// ValidateKey checks a recipe key: lowercase words joined by _ or -.
func ValidateKey(key string) error {
	if !keyRegex.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ValidateStep checks that a step does something and that its values are in range.
func ValidateStep(s *Step) error {
	if s.Beverage != nil && strings.TrimSpace(s.Beverage.Name) == "" {
		return fmt.Errorf("%w: beverage name is empty", ErrInvalidStep)
	}

	for _, a := range s.Activators {
		if strings.TrimSpace(a.EntityID) == "" {
			return fmt.Errorf("%w: activator entity id is empty", ErrInvalidStep)
		}
		if a.Count < 0 || a.Count > maxRepeatCount {
			return fmt.Errorf("%w: count for %s must be 0-%d", ErrInvalidStep, a.EntityID, maxRepeatCount)
		}
	}

	if !s.HasWork() {
		return fmt.Errorf("%w: needs a beverage or an activator with count > 0", ErrInvalidStep)
	}

	if s.Timeout != 0 && (s.Timeout < MinStepTimeout || s.Timeout > MaxStepTimeout) {
		return fmt.Errorf("%w: timeout must be %d-%d seconds", ErrInvalidStep,
			int(MinStepTimeout.Seconds()), int(MaxStepTimeout.Seconds()))
	}
	return nil
}
