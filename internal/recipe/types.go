package recipe

import "time"

// Beverage is the drink prepared by a step.
type Beverage struct {
	// Name is matched against the appliance's selector options.
	Name string `json:"name"`

	// Double requests a double shot when the appliance has a double switch.
	Double bool `json:"double"`
}

// ActivatorRun cycles one auxiliary switch Count times.
// A Count of 0 keeps the entry in the recipe but skips it.
type ActivatorRun struct {
	EntityID string `json:"entity_id"`
	Count    int    `json:"count"`
}

// Step is one unit of a recipe. Activators run in order, then the beverage.
type Step struct {
	Beverage   *Beverage      `json:"beverage,omitempty"`
	Activators []ActivatorRun `json:"activators,omitempty"`

	// Timeout bounds each action of the step. Zero means the executor default.
	Timeout time.Duration `json:"-"`
}

// Runs returns the activators with a positive count, in configured order.
func (s Step) Runs() []ActivatorRun {
	runs := make([]ActivatorRun, 0, len(s.Activators))
	for _, a := range s.Activators {
		if a.Count > 0 {
			runs = append(runs, a)
		}
	}
	return runs
}

// HasWork reports whether the step would do anything.
func (s Step) HasWork() bool {
	return s.Beverage != nil || len(s.Runs()) > 0
}

// Recipe is an ordered sequence of steps identified by a stable key.
type Recipe struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// DeepCopy creates an independent copy of the recipe.
func (r *Recipe) DeepCopy() *Recipe {
	if r == nil {
		return nil
	}

	cpy := *r
	if r.Steps != nil {
		cpy.Steps = make([]Step, len(r.Steps))
		for i, s := range r.Steps {
			cpy.Steps[i] = s
			if s.Beverage != nil {
				b := *s.Beverage
				cpy.Steps[i].Beverage = &b
			}
			if s.Activators != nil {
				cpy.Steps[i].Activators = append([]ActivatorRun(nil), s.Activators...)
			}
		}
	}
	return &cpy
}

// EntityIDs returns every activator entity referenced by the recipe,
// including skipped ones, without duplicates.
func (r *Recipe) EntityIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range r.Steps {
		for _, a := range s.Activators {
			if _, ok := seen[a.EntityID]; ok {
				continue
			}
			seen[a.EntityID] = struct{}{}
			ids = append(ids, a.EntityID)
		}
	}
	return ids
}
