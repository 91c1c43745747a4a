// Package influxdb provides InfluxDB connectivity for Gray Modbus Core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, point writing, and health monitoring for the optional
// value-history sink.
//
// # Purpose
//
// This package stores register history: whenever the poll cache records
// a changed value, the engine writes a point here. History is write-only
// observability. The engine never reads it back, and a missing or
// unreachable InfluxDB degrades history, not acquisition.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "graymodbus",
//	    Bucket: "history",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a changed register value
//	client.WriteRegisterValue("heat-pump", "hp_flow_temp", 38.5, readTime)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead when many registers change per poll cycle.
package influxdb
