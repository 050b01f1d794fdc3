// Package status fans executor events out to the rest of the system.
//
// Each component is a brew.Listener:
//   - Publisher mirrors the run state to a retained MQTT topic and publishes
//     one event message per transition.
//   - Recorder writes run, step and fault points to InfluxDB.
//   - History stores every finished run in the statistics database.
//   - Mirror keeps the run state and recent runs in Redis.
//
// Listeners run on the executor's goroutine, so none of them block for
// long: the publisher queues messages for its own worker, the recorder
// relies on the non-blocking InfluxDB write API, and history and mirror
// writes are bounded by timeouts.
package status
