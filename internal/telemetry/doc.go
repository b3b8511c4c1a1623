// Package telemetry sets up OpenTelemetry tracing and metrics for ragd.
//
// When disabled, Tracer and Meter fall back to the global no-op providers so
// instrumented code never needs to check. When enabled, spans and metrics are
// exported over OTLP (gRPC by default, or http/protobuf). Exporter failures
// leave the daemon running in a degraded state rather than failing startup.
package telemetry
