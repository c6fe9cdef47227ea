// Package events carries structured pipeline milestones from brief workers to
// pluggable sinks. The Hub batches events on a background goroutine so an
// emitting worker never waits on logging or metrics.
//
// These events are operational telemetry. The human-readable progress log a
// client sees lives on the job itself.
package events
