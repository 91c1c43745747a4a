package tsdb

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// WriteEngineMetric writes a single engine performance metric for a device.
//
// This is the primary method for recording acquisition metrics. The
// write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - device: Device name (e.g., "heat-pump")
//   - metric: The metric name (e.g., "success_rate", "avg_duration_ms")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteEngineMetric("heat-pump", "success_rate", 0.998)
//	client.WriteEngineMetric("heat-pump", "throughput_wps", 412.5)
func (c *Client) WriteEngineMetric(device string, metric string, value float64) {
	c.addLine(formatLineProtocol(
		"engine_metrics",
		map[string]string{
			"device": device,
			"metric": metric,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	))
}

// WriteDeviceOnline records device connectivity as a 0/1 gauge.
//
// Flapping devices show up as edges on this series, which makes
// connection stability queryable alongside poll performance.
func (c *Client) WriteDeviceOnline(device string, online bool) {
	v := 0
	if online {
		v = 1
	}

	c.addLine(formatLineProtocol(
		"device_online",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"value": v,
		},
		time.Now(),
	))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
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
//	    map[string]interface{}{"devices_online": 3, "poll_cycles": 1042})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.addLine(formatLineProtocol(measurement, tags, fields, time.Now()))
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.addLine(formatLineProtocol(measurement, tags, fields, timestamp))
}

// formatLineProtocol formats a data point as an InfluxDB line protocol string.
//
// Format: measurement,tag1=val1,tag2=val2 field1=val1,field2=val2 timestamp_ns
//
// VictoriaMetrics accepts this format on the /write endpoint.
func formatLineProtocol(measurement string, tags map[string]string, fields map[string]interface{}, t time.Time) string {
	var b strings.Builder

	// Measurement (escaped to prevent injection)
	b.WriteString(escapeMeasurement(measurement))

	// Tags (sorted for deterministic output and testability)
	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(tags[k]))
	}

	// Fields (sorted for deterministic output)
	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	b.WriteByte(' ')
	first := true
	for _, k := range fieldKeys {
		v := fields[k]
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		switch val := v.(type) {
		case float64:
			b.WriteString(fmt.Sprintf("%g", val))
		case int:
			b.WriteString(fmt.Sprintf("%di", val))
		case int64:
			b.WriteString(fmt.Sprintf("%di", val))
		case bool:
			if val {
				b.WriteString("true")
			} else {
				b.WriteString("false")
			}
		case string:
			b.WriteString(fmt.Sprintf("%q", val))
		default:
			b.WriteString(fmt.Sprintf("%v", val))
		}
	}

	// Timestamp in nanoseconds
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%d", t.UnixNano()))

	return b.String()
}

// escapeTag escapes special characters in tag keys/values per line protocol spec.
// Commas, equals signs, and spaces must be backslash-escaped.
// Newlines are stripped to prevent line protocol injection.
func escapeTag(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return s
}

// escapeMeasurement escapes special characters in measurement names.
// Newlines are stripped to prevent line protocol injection.
func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return s
}
