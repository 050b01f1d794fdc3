package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the brewlogic MQTT tree.
//
// Appliance entities use the flat scheme brewlogic/{category}/{bridge}/{entity_id}
// so one bridge process can mirror every entity of an appliance.
const (
	TopicPrefix       = "brewlogic"
	TopicPrefixBrew   = "brewlogic/brew"
	TopicPrefixSystem = "brewlogic/system"
	TopicPrefixUI     = "brewlogic/ui"
)

// Topics provides builders for brewlogic MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.EntityState("coffee", "switch.coffee_machine_start")
//	// Returns: "brewlogic/state/coffee/switch.coffee_machine_start"
type Topics struct{}

// EntityState returns the retained state topic of an appliance entity.
//
// Example: brewlogic/state/coffee/switch.coffee_machine_start
func (Topics) EntityState(bridge, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, bridge, entityID)
}

// EntityCommand returns the command topic of an appliance entity.
//
// Example: brewlogic/command/coffee/select.coffee_machine_drink_set
func (Topics) EntityCommand(bridge, entityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, bridge, entityID)
}

// BridgeStates returns a pattern matching every entity state of a bridge.
//
// Pattern: brewlogic/state/coffee/+
func (Topics) BridgeStates(bridge string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, bridge)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: brewlogic/health/coffee
func (Topics) BridgeHealth(bridge string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridge)
}

// RunState returns the retained topic carrying the current run snapshot.
//
// Example: brewlogic/brew/state
func (Topics) RunState() string {
	return TopicPrefixBrew + "/state"
}

// BrewEvent returns the topic for recipe lifecycle events.
//
// Example: brewlogic/brew/event/brew_completed
func (Topics) BrewEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixBrew, eventType)
}

// AllBrewEvents returns a pattern matching all recipe lifecycle events.
//
// Pattern: brewlogic/brew/event/+
func (Topics) AllBrewEvents() string {
	return TopicPrefixBrew + "/event/+"
}

// SystemStatus returns the system status topic.
//
// Example: brewlogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// UINotification returns the notification topic for a UI client.
//
// Example: brewlogic/ui/all/notification
func (Topics) UINotification(clientID string) string {
	return fmt.Sprintf("%s/%s/notification", TopicPrefixUI, clientID)
}

// EntityFromTopic extracts the entity id from a state or command topic.
// It returns false when the topic is not in the flat entity scheme.
func (Topics) EntityFromTopic(topic string) (bridge, entityID string, ok bool) {
	var category string
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/")
	if !found {
		return "", "", false
	}
	category, rest, found = strings.Cut(rest, "/")
	if !found || (category != "state" && category != "command") {
		return "", "", false
	}
	bridge, entityID, found = strings.Cut(rest, "/")
	if !found || bridge == "" || entityID == "" {
		return "", "", false
	}
	return bridge, entityID, true
}
