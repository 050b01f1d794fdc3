// Package notify delivers user-facing brew notifications.
//
// The executor hands every pause, resume, completion, failure and abort to
// a Notifier. Delivery is best effort: callers log errors and carry on.
//
// Implementations:
//   - MQTTNotifier publishes to the UI notification topic for panels and apps
//   - LogNotifier writes notifications to the structured log
//   - Multi fans out to several notifiers
package notify
