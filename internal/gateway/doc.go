// Package gateway is brewlogic's view of the appliance: a table of entities,
// each with a string state value and free-form attributes.
//
// A Gateway reads current state, issues state-change commands and delivers
// state-change notifications to per-entity subscribers. Two implementations
// ship with the package:
//
//   - MQTT mirrors retained entity states published by an appliance bridge
//     and publishes commands back to it.
//   - Memory keeps the table in process. Tests use it with command hooks;
//     the simulator drives it for a dry run without hardware.
//
// Subscribers are invoked synchronously on the goroutine that observed the
// change, so a subscriber registered before a command is issued sees every
// change the command causes. Subscribers must not block.
package gateway
