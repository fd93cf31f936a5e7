// Package telemetry provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for azmove. Metrics implements the ARM
// client's request observer and the simulator's evaluation observer so
// both layers stay decoupled from Prometheus.
package telemetry
