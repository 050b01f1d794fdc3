package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Entity state values understood by the executor.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Activity is the classification of an entity state value.
type Activity int

const (
	// Unknown covers "unavailable", "unknown", empty and any other value.
	Unknown Activity = iota
	Active
	Inactive
)

func (a Activity) String() string {
	switch a {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Classify maps a raw state value to an Activity.
func Classify(value string) Activity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case StateOn, "true":
		return Active
	case StateOff, "false":
		return Inactive
	default:
		return Unknown
	}
}

// State is the reported state of one entity.
type State struct {
	EntityID   string         `json:"entity_id"`
	Value      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UpdatedAt  time.Time      `json:"last_updated"`
}

// Activity classifies the state value.
func (s State) Activity() Activity {
	return Classify(s.Value)
}

// Attributes is the typed subset of entity attributes brewlogic reads.
type Attributes struct {
	FriendlyName string   `mapstructure:"friendly_name"`
	Options      []string `mapstructure:"options"`
}

// Decode extracts the typed attributes. Unknown keys are ignored.
func (s State) Decode() (Attributes, error) {
	var attrs Attributes
	if len(s.Attributes) == 0 {
		return attrs, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &attrs,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return attrs, err
	}
	if err := decoder.Decode(s.Attributes); err != nil {
		return attrs, fmt.Errorf("%w: attributes of %s: %w", ErrInvalidPayload, s.EntityID, err)
	}
	return attrs, nil
}

// FriendlyName returns the human-readable name, falling back to the entity id.
func (s State) FriendlyName() string {
	attrs, err := s.Decode()
	if err != nil || attrs.FriendlyName == "" {
		return s.EntityID
	}
	return attrs.FriendlyName
}

// Options returns the selectable values of a selector entity.
func (s State) Options() ([]string, error) {
	attrs, err := s.Decode()
	if err != nil {
		return nil, err
	}
	return attrs.Options, nil
}

// Clone returns a copy whose attribute map can be modified freely.
func (s State) Clone() State {
	cpy := s
	cpy.Attributes = cloneAttributes(s.Attributes)
	return cpy
}

func cloneAttributes(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case []any:
			cpy[k] = append([]any(nil), val...)
		case []string:
			cpy[k] = append([]string(nil), val...)
		case map[string]any:
			cpy[k] = cloneAttributes(val)
		default:
			cpy[k] = v
		}
	}
	return cpy
}

// StateChange is delivered to subscribers. Old is nil the first time an
// entity reports.
type StateChange struct {
	EntityID string
	Old      *State
	New      State
}
