// Package metrics provides the observability hooks for the stratus daemon.
//
// The package implements the Null Object pattern so components never need
// nil checks: everything takes a Recorder, and callers that do not care
// inject NoopRecorder, whose methods inline to nothing. The daemon swaps in
// PrometheusRecorder and serves the registry on /metrics.
package metrics
