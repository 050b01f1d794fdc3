package recipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// fileRecipe is the on-disk shape of one recipe.
type fileRecipe struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Steps       []fileStep `yaml:"steps"`
}

// fileStep is the on-disk shape of one step. Activators may be written as
// a switch_counts mapping (current), a switches list or a single switch.
type fileStep struct {
	Drink        string    `yaml:"drink,omitempty"`
	Double       bool      `yaml:"double,omitempty"`
	Timeout      int       `yaml:"timeout,omitempty"`
	SwitchCounts yaml.Node `yaml:"switch_counts,omitempty"`
	Switches     yaml.Node `yaml:"switches,omitempty"`
	Switch       string    `yaml:"switch,omitempty"`
}

type fileDocument struct {
	Recipes yaml.Node `yaml:"recipes"`
}

// FileStore keeps recipes in a single YAML file.
//
// Recipes are returned in file order. Writes replace the whole file
// atomically.
type FileStore struct {
	path         string
	writeExample bool
	mu           sync.Mutex
	logger       Logger
}

// NewFileStore creates a store for the file at path. When writeExample is
// set and the file does not exist, List writes ExampleRecipes to it.
func NewFileStore(path string, writeExample bool) *FileStore {
	return &FileStore{
		path:         path,
		writeExample: writeExample,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *FileStore) SetLogger(logger Logger) {
	s.logger = logger
}

// Path returns the recipes file path.
func (s *FileStore) Path() string {
	return s.path
}

// List reads every valid recipe from the file. Invalid recipes are logged
// and skipped so one bad entry does not hide the rest.
func (s *FileStore) List(_ context.Context) ([]Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// Save adds or replaces a recipe and rewrites the file.
func (s *FileStore) Save(_ context.Context, r *Recipe) error {
	if err := ValidateRecipe(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recipes, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range recipes {
		if recipes[i].Key == r.Key {
			recipes[i] = *r.DeepCopy()
			replaced = true
			break
		}
	}
	if !replaced {
		recipes = append(recipes, *r.DeepCopy())
	}
	return s.write(recipes)
}

// Delete removes a recipe and rewrites the file.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recipes, err := s.load()
	if err != nil {
		return err
	}

	for i := range recipes {
		if recipes[i].Key == key {
			recipes = append(recipes[:i], recipes[i+1:]...)
			return s.write(recipes)
		}
	}
	return ErrRecipeNotFound
}

func (s *FileStore) load() ([]Recipe, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if !s.writeExample {
			s.logger.Info("no recipes file, starting empty", "path", s.path)
			return nil, nil
		}
		example := ExampleRecipes()
		if err := s.write(example); err != nil {
			return nil, fmt.Errorf("writing example recipes: %w", err)
		}
		s.logger.Info("wrote example recipes file", "path", s.path, "count", len(example))
		return example, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading recipes file: %w", err)
	}

	recipes, problems, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for _, p := range problems {
		s.logger.Error("skipping invalid recipe", "path", s.path, "error", p)
	}
	s.logger.Debug("recipes loaded", "path", s.path, "count", len(recipes))
	return recipes, nil
}

func (s *FileStore) write(recipes []Recipe) error {
	data, err := Marshal(recipes)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), dirPermissions); err != nil {
		return fmt.Errorf("creating recipes directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("writing recipes file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("replacing recipes file: %w", err)
	}
	return nil
}

// Parse decodes a recipes document. Document-level failures return err;
// recipes that fail to decode or validate are reported in problems and
// left out of the result.
func Parse(data []byte) (recipes []Recipe, problems []error, err error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing recipes file: %w", err)
	}

	node := doc.Recipes
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("%w: recipes must be a mapping of key to recipe", ErrInvalidRecipe)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value

		var fr fileRecipe
		if err := node.Content[i+1].Decode(&fr); err != nil {
			problems = append(problems, fmt.Errorf("recipe %q: %w", key, err))
			continue
		}

		r, err := fr.normalise(key)
		if err == nil {
			err = ValidateRecipe(r)
		}
		if err != nil {
			problems = append(problems, fmt.Errorf("recipe %q: %w", key, err))
			continue
		}
		recipes = append(recipes, *r)
	}
	return recipes, problems, nil
}

// Marshal encodes recipes in the current file format, preserving order.
func Marshal(recipes []Recipe) ([]byte, error) {
	list := &yaml.Node{Kind: yaml.MappingNode}
	for i := range recipes {
		var value yaml.Node
		if err := value.Encode(toFileRecipe(&recipes[i])); err != nil {
			return nil, fmt.Errorf("encoding recipe %q: %w", recipes[i].Key, err)
		}
		list.Content = append(list.Content, stringNode(recipes[i].Key), &value)
	}

	doc := &yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{stringNode("recipes"), list},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding recipes: %w", err)
	}
	return data, nil
}

func (fr fileRecipe) normalise(key string) (*Recipe, error) {
	r := &Recipe{
		Key:         key,
		Name:        fr.Name,
		Description: fr.Description,
		Steps:       make([]Step, 0, len(fr.Steps)),
	}

	for i, st := range fr.Steps {
		step := Step{Timeout: time.Duration(st.Timeout) * time.Second}
		if st.Drink != "" {
			step.Beverage = &Beverage{Name: st.Drink, Double: st.Double}
		}

		activators, err := st.activators()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		step.Activators = activators
		r.Steps = append(r.Steps, step)
	}
	return r, nil
}

// activators picks the newest activator shape present on the step.
func (st fileStep) activators() ([]ActivatorRun, error) {
	switch {
	case present(st.SwitchCounts):
		if st.SwitchCounts.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: switch_counts must map entity id to count", ErrInvalidStep)
		}
		runs := make([]ActivatorRun, 0, len(st.SwitchCounts.Content)/2)
		for i := 0; i+1 < len(st.SwitchCounts.Content); i += 2 {
			entity := st.SwitchCounts.Content[i].Value
			count, err := parseCount(st.SwitchCounts.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%w: count for %s: %v", ErrInvalidStep, entity, err)
			}
			runs = append(runs, ActivatorRun{EntityID: entity, Count: count})
		}
		return runs, nil

	case present(st.Switches):
		var entities []string
		switch st.Switches.Kind {
		case yaml.ScalarNode:
			entities = []string{st.Switches.Value}
		case yaml.SequenceNode:
			if err := st.Switches.Decode(&entities); err != nil {
				return nil, fmt.Errorf("%w: switches: %v", ErrInvalidStep, err)
			}
		default:
			return nil, fmt.Errorf("%w: switches must be a list of entity ids", ErrInvalidStep)
		}
		runs := make([]ActivatorRun, 0, len(entities))
		for _, e := range entities {
			runs = append(runs, ActivatorRun{EntityID: e, Count: 1})
		}
		return runs, nil

	case st.Switch != "":
		return []ActivatorRun{{EntityID: st.Switch, Count: 1}}, nil
	}
	return nil, nil
}

// present reports whether a node-typed field was written with a value.
func present(n yaml.Node) bool {
	return n.Kind != 0 && n.Tag != "!!null"
}

// parseCount reads a repeat count. An empty value counts as zero.
func parseCount(n *yaml.Node) (int, error) {
	if n.Tag == "!!null" || n.Value == "" {
		return 0, nil
	}
	return strconv.Atoi(n.Value)
}

func toFileRecipe(r *Recipe) fileRecipe {
	fr := fileRecipe{
		Name:        r.Name,
		Description: r.Description,
		Steps:       make([]fileStep, 0, len(r.Steps)),
	}
	for _, s := range r.Steps {
		step := fileStep{Timeout: int(s.Timeout / time.Second)}
		if s.Beverage != nil {
			step.Drink = s.Beverage.Name
			step.Double = s.Beverage.Double
		}
		if len(s.Activators) > 0 {
			counts := &yaml.Node{Kind: yaml.MappingNode}
			for _, a := range s.Activators {
				counts.Content = append(counts.Content,
					stringNode(a.EntityID),
					&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(a.Count)},
				)
			}
			step.SwitchCounts = *counts
		}
		fr.Steps = append(fr.Steps, step)
	}
	return fr
}

func stringNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// ExampleRecipes returns the recipes written to a fresh recipes file.
func ExampleRecipes() []Recipe {
	return []Recipe{
		{
			Key:         "macchiato_americano",
			Name:        "Macchiato + Americano",
			Description: "Latte macchiato followed by an americano",
			Steps: []Step{
				{Beverage: &Beverage{Name: "LatteMacchiato"}, Timeout: 300 * time.Second},
				{Beverage: &Beverage{Name: "Americano"}, Timeout: 300 * time.Second},
			},
		},
		{
			Key:         "double_espresso_cappuccino",
			Name:        "Double Espresso + Cappuccino",
			Description: "Strong double espresso then a cappuccino",
			Steps: []Step{
				{Beverage: &Beverage{Name: "Espresso", Double: true}, Timeout: 180 * time.Second},
				{Beverage: &Beverage{Name: "Cappuccino"}, Timeout: 300 * time.Second},
			},
		},
	}
}
