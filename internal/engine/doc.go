// Package engine drives a single run through a compiled graph.
//
// The engine is the only writer of a run's state. For every step it hands the
// current state.View to the node's handler, merges the returned delta, emits
// one progress event and asks the graph where to go next. Fan-out groups run
// their members concurrently and join only after all of them succeed.
//
// # Termination
//
// A run ends in exactly one of these ways, and each produces exactly one
// terminal event through its report.Run:
//
//   - a terminal node finishes: Completed
//   - a handler fails: Failed, cause stage_failure, attributed to the stage
//   - the step ceiling is reached: Failed, cause step_limit_exceeded
//   - the run timeout elapses: Failed, cause timeout
//   - the run context is cancelled: Cancelled
//   - no admission slot in time: Failed, cause resource_exhausted
//
// The admission slot and every pooled client checked out by the run are
// released before the terminal event is emitted.
package engine
