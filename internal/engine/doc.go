// Package engine provides the asynchronous task execution engine.
// It runs submitted work on a fixed pool of worker goroutines, records
// progress and results in an in-memory task table, publishes task events to
// stream subscribers, and takes part in the process lifecycle so that
// in-flight work is drained on shutdown.
package engine
