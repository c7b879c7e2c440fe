package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Measurement names written by the dashboard.
const (
	// MeasurementConnection holds one point per connection state change.
	MeasurementConnection = "connection_state"

	// MeasurementRetry holds one point per scheduled reconnect.
	MeasurementRetry = "connection_retry"
)

// WritePoint writes a reading. Feeds use this for tank levels, temperatures,
// relay states, weather and navigation.
//
// Example:
//
//	client.WritePoint("tank",
//	    map[string]string{"tank": "fresh1", "type": "freshWater"},
//	    map[string]any{"level": 42.5, "capacity": 100.0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point at a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// Observe records connection state changes and retry scheduling.
// Other event kinds are ignored.
func (c *Client) Observe(ev connection.Event) {
	switch ev.Kind {
	case connection.EventStateChanged:
		fields := map[string]any{
			"state":       ev.Status.State.String(),
			"from":        ev.From.String(),
			"connected":   ev.Status.State == connection.StateConnected,
			"retry_count": ev.Status.Retry.Count,
		}
		if ev.Status.LastError != nil {
			fields["error"] = ev.Status.LastError.Error()
		}
		c.WritePointWithTime(MeasurementConnection, map[string]string{"connection": ev.Name}, fields, eventTime(ev))

	case connection.EventRetryScheduled:
		c.WritePointWithTime(MeasurementRetry, map[string]string{"connection": ev.Name}, map[string]any{
			"attempt":  ev.Status.Retry.Count,
			"delay_ms": ev.Delay.Milliseconds(),
		}, eventTime(ev))
	}
}

func eventTime(ev connection.Event) time.Time {
	if ev.Time.IsZero() {
		return time.Now()
	}
	return ev.Time
}
