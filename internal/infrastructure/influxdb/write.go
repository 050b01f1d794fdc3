package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by brewlogic.
const (
	MeasurementBrewRun = "brew_run"
	MeasurementFault   = "brew_fault"
	MeasurementStep    = "brew_step"
)

// WriteBrewRun records the outcome of a finished or aborted run.
//
//	client.WriteBrewRun("morning", "completed", 94*time.Second, 2, 0)
func (c *Client) WriteBrewRun(recipeKey, outcome string, duration time.Duration, stepsDone, faultPauses int) {
	c.WritePoint(MeasurementBrewRun,
		map[string]string{
			"recipe":  recipeKey,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_s":   duration.Seconds(),
			"steps_done":   stepsDone,
			"fault_pauses": faultPauses,
		},
	)
}

// WriteFault records an appliance fault that paused a run.
func (c *Client) WriteFault(recipeKey, description string, stepIndex int) {
	c.WritePoint(MeasurementFault,
		map[string]string{
			"recipe": recipeKey,
		},
		map[string]interface{}{
			"description": description,
			"step":        stepIndex,
		},
	)
}

// WriteStep records the start of a recipe step.
func (c *Client) WriteStep(recipeKey string, stepIndex, totalSteps int) {
	c.WritePoint(MeasurementStep,
		map[string]string{
			"recipe": recipeKey,
		},
		map[string]interface{}{
			"step":  stepIndex,
			"total": totalSteps,
		},
	)
}

// WritePoint writes a custom point stamped with the current time.
// Keep tags low-cardinality; per-run values belong in fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
