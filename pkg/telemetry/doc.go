// Package telemetry configures OpenTelemetry tracing for the client.
package telemetry
