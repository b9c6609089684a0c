// Package influxdb provides best-effort telemetry persistence.
//
// Sensor readings and relay state transitions are written to InfluxDB with
// non-blocking batched writes; a write failure never affects the state
// synchronization path.
package influxdb
