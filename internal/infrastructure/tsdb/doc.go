// Package tsdb provides time-series database connectivity for Gray Modbus Core.
//
// It writes to VictoriaMetrics using InfluxDB line protocol over HTTP and
// queries using PromQL. Zero external dependencies — uses only net/http.
//
// # Purpose
//
// This package stores engine performance metrics:
//   - Per-device poll statistics (success rate, duration, throughput)
//   - Batch optimization efficiency
//   - Device connectivity (online/offline transitions)
//
// Metrics are write-only observability. The engine never depends on them;
// an unreachable VictoriaMetrics degrades dashboards, not acquisition.
//
// # Usage
//
//	cfg := config.TSDBConfig{
//	    Enabled:       true,
//	    URL:           "http://localhost:8428",
//	    BatchSize:     1000,
//	    FlushInterval: 1,
//	}
//
//	client, err := tsdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Write engine metrics
//	client.WriteEngineMetric("heat-pump", "success_rate", 0.998)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are batched internally and flushed on size threshold or timer.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// Batch flush is a single HTTP POST with newline-delimited line protocol.
// VictoriaMetrics processes these with minimal overhead.
package tsdb
