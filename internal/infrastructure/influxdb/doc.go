// Package influxdb provides InfluxDB connectivity for brew telemetry.
//
// It wraps influxdb-client-go v2 with a non-blocking, batching write API.
// brewlogic records one point per finished run, per fault pause and per
// step start, which is enough to chart usage and fault frequency.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	client.WriteBrewRun("morning", "completed", elapsed, 2, 0)
package influxdb
