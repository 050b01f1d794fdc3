// Package brew is the recipe execution engine.
//
// It drives an appliance through the steps of a recipe over a
// gateway.Gateway and is built from four layers, leaves first:
//
//   - Watcher decides when one action has finished, from the state changes
//     of the entities it tracks (armed, then active, then inactive)
//   - FaultMonitor reports appliance faults, both on demand and as edges
//   - Runner performs a single action (a beverage, or one activator cycle
//     repeated N times) and reports a definite outcome
//   - Executor owns the run: step sequencing, pause on fault with automatic
//     resume, abort and terminal reporting
//
// Ordering rule: a Watcher subscribes to its entities before the command
// that triggers the action is issued. Appliances that cycle a switch on
// and off within one update would otherwise finish before anyone listens.
//
// Concurrency: each run is one goroutine owned by the Executor. Every wait
// selects on the run context, so Abort interrupts suspended waits at once
// and all subscriptions are released on every exit path.
package brew
