package recipe

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validRecipe() *Recipe {
	return &Recipe{
		Key:  "morning",
		Name: "Morning",
		Steps: []Step{
			{Activators: []ActivatorRun{{EntityID: "switch.coffee_rinse", Count: 1}}},
			{Beverage: &Beverage{Name: "Espresso"}, Timeout: 60 * time.Second},
		},
	}
}

func TestValidateRecipe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Recipe)
		wantErr error
	}{
		{name: "valid", mutate: func(*Recipe) {}},
		{
			name:    "bad key",
			mutate:  func(r *Recipe) { r.Key = "Morning Brew" },
			wantErr: ErrInvalidKey,
		},
		{
			name:    "empty name",
			mutate:  func(r *Recipe) { r.Name = "  " },
			wantErr: ErrInvalidRecipe,
		},
		{
			name:    "long description",
			mutate:  func(r *Recipe) { r.Description = strings.Repeat("x", maxDescriptionLen+1) },
			wantErr: ErrInvalidRecipe,
		},
		{
			name:    "no steps",
			mutate:  func(r *Recipe) { r.Steps = nil },
			wantErr: ErrInvalidRecipe,
		},
		{
			name: "step with only zero counts",
			mutate: func(r *Recipe) {
				r.Steps[0].Activators = []ActivatorRun{{EntityID: "switch.coffee_rinse", Count: 0}}
			},
			wantErr: ErrInvalidStep,
		},
		{
			name: "negative count",
			mutate: func(r *Recipe) {
				r.Steps[0].Activators[0].Count = -1
			},
			wantErr: ErrInvalidStep,
		},
		{
			name:    "empty beverage name",
			mutate:  func(r *Recipe) { r.Steps[1].Beverage.Name = "" },
			wantErr: ErrInvalidStep,
		},
		{
			name:    "timeout below minimum",
			mutate:  func(r *Recipe) { r.Steps[1].Timeout = 9 * time.Second },
			wantErr: ErrInvalidStep,
		},
		{
			name:    "timeout above maximum",
			mutate:  func(r *Recipe) { r.Steps[1].Timeout = time.Hour + time.Second },
			wantErr: ErrInvalidStep,
		},
		{
			name:   "timeout at bounds",
			mutate: func(r *Recipe) { r.Steps[0].Timeout = MinStepTimeout; r.Steps[1].Timeout = MaxStepTimeout },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecipe()
			tt.mutate(r)
			err := ValidateRecipe(r)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateRecipe() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRecipe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRecipe_Nil(t *testing.T) {
	if err := ValidateRecipe(nil); !errors.Is(err, ErrInvalidRecipe) {
		t.Errorf("ValidateRecipe(nil) error = %v, want ErrInvalidRecipe", err)
	}
}

func TestStep_Runs(t *testing.T) {
	s := Step{Activators: []ActivatorRun{
		{EntityID: "switch.a", Count: 2},
		{EntityID: "switch.b", Count: 0},
		{EntityID: "switch.c", Count: 1},
	}}

	runs := s.Runs()
	if len(runs) != 2 || runs[0].EntityID != "switch.a" || runs[1].EntityID != "switch.c" {
		t.Errorf("Runs() = %+v, want switch.a then switch.c", runs)
	}
	if !s.HasWork() {
		t.Error("HasWork() = false, want true")
	}
	if (Step{}).HasWork() {
		t.Error("empty step HasWork() = true, want false")
	}
}

func TestRecipe_DeepCopy(t *testing.T) {
	orig := validRecipe()
	cpy := orig.DeepCopy()

	cpy.Steps[0].Activators[0].Count = 9
	cpy.Steps[1].Beverage.Name = "Lungo"
	cpy.Name = "Changed"

	if orig.Steps[0].Activators[0].Count != 1 {
		t.Error("activator count leaked into original")
	}
	if orig.Steps[1].Beverage.Name != "Espresso" {
		t.Error("beverage name leaked into original")
	}
	if orig.Name != "Morning" {
		t.Error("name leaked into original")
	}

	var nilRecipe *Recipe
	if nilRecipe.DeepCopy() != nil {
		t.Error("DeepCopy() of nil should be nil")
	}
}

func TestRecipe_EntityIDs(t *testing.T) {
	r := &Recipe{Steps: []Step{
		{Activators: []ActivatorRun{{EntityID: "switch.a", Count: 1}, {EntityID: "switch.b", Count: 0}}},
		{Activators: []ActivatorRun{{EntityID: "switch.a", Count: 2}}},
	}}

	ids := r.EntityIDs()
	if len(ids) != 2 || ids[0] != "switch.a" || ids[1] != "switch.b" {
		t.Errorf("EntityIDs() = %v, want [switch.a switch.b]", ids)
	}
}
