// Package otel exposes goVerify metrics as OpenTelemetry observable
// instruments on a caller-supplied Meter. One callback reads the metrics
// snapshot per collection.
package otel
