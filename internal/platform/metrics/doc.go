// Package metrics exposes scheduler activity as Prometheus metrics. The
// Recorder consumes job lifecycle events and serves its own registry over
// HTTP.
package metrics
