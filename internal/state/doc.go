// Package state holds the execution state threaded through a single analysis
// run.
//
// # Ownership
//
// A State is created at submission and mutated exclusively by the engine that
// drives its run. Stage handlers never see the State itself; they receive a
// View, an immutable snapshot taken just before the handler is invoked, and
// describe their changes as a Delta which the engine applies afterwards.
//
// # Invariants
//
//   - The run identifier never changes after creation.
//   - Status transitions are monotonic: once Completed, Failed or Cancelled,
//     a run's status is frozen.
//   - Artifacts are append-only per owner. A stage may re-write the artifact
//     it owns (debate members run many times), but a delta naming another
//     stage's artifact is rejected with ErrArtifactOwned.
//   - Round counters never exceed the limit configured for their loop.
package state
