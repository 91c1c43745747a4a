// Package api implements the HTTP REST API and WebSocket server for Gray Modbus Core.
//
// This package provides:
//   - REST endpoints for device status, cached values, read plans, and commands
//   - Performance summaries, resets, and VictoriaMetrics history passthrough
//   - WebSocket hub for real-time value and availability broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body size limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between dashboards and automation frontends (Node-RED
// flows, Grafana, web admin) and the polling coordinator. Reads are served
// from the engine's value cache without touching the wire; commands go to
// the device synchronously, so the HTTP status reflects the transport
// outcome. Value changes reach WebSocket clients through BroadcastValue,
// fed from the coordinator's update hook at wiring time.
//
// # Graceful Degradation
//
// Only the logger and the engine are required. Without a database the
// audit endpoints report unconfigured; without VictoriaMetrics the history
// endpoints return 503; without MQTT the metrics response shows the broker
// as disconnected. Acquisition itself never depends on this server.
package api
