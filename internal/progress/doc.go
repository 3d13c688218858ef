// Package progress carries harvest run events from the planner and workers to
// pluggable sinks. Emitters never block: the Hub buffers events, batches them
// on a background goroutine, and drops under backpressure.
package progress
