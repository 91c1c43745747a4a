package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// registerMeasurement is the measurement all register history lands in.
// Tags keep cardinality low (device, unique_id); the reading itself is
// a field.
const registerMeasurement = "register_values"

// WriteRegisterValue records a numeric register reading.
//
// This is the primary history write: the poller calls it whenever a
// cached value changes. The write is non-blocking; points are batched
// and sent asynchronously.
//
// Parameters:
//   - device: Device name (e.g., "heat-pump")
//   - uniqueID: Register entity ID (e.g., "hp_flow_temp")
//   - value: The decoded numeric value
//   - timestamp: When the value was read from the field
//
// Example:
//
//	client.WriteRegisterValue("heat-pump", "hp_flow_temp", 38.5, readTime)
func (c *Client) WriteRegisterValue(device, uniqueID string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		registerMeasurement,
		map[string]string{
			"device":    device,
			"unique_id": uniqueID,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteRegisterText records a text register reading.
//
// Text values land in a separate "text" field so numeric queries over
// "value" never mix types.
func (c *Client) WriteRegisterText(device, uniqueID, text string, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		registerMeasurement,
		map[string]string{
			"device":    device,
			"unique_id": uniqueID,
		},
		map[string]interface{}{
			"text": text,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteRegisterState records a boolean register reading.
//
// Booleans are stored as the "state" field so dashboards can graph
// on/off transitions alongside numeric history.
func (c *Client) WriteRegisterState(device, uniqueID string, on bool, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		registerMeasurement,
		map[string]string{
			"device":    device,
			"unique_id": uniqueID,
		},
		map[string]interface{}{
			"state": on,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the register helpers.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("engine_stats",
//	    map[string]string{"host": "acq-01"},
//	    map[string]interface{}{"poll_cycles": 1042, "devices_online": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
