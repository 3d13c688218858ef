// Package sinks implements progress consumers: structured logs, Prometheus
// run metrics, and the run repository behind the status API.
package sinks
