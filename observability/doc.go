// Package observability provides the OpenTelemetry metrics extension for
// Stride. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for step creation, completion, retry, failure,
// escalation, and throttle refusals.
//
// For per-execution tracing and latency histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
