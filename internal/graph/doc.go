// Package graph describes the static shape of an analysis pipeline and
// compiles it into an immutable, validated form shared by all runs.
//
// # Building
//
// A Builder collects stages and the transitions between them:
//
//   - Connect: an unconditional edge to a single successor.
//   - ConnectConditional: a label-to-successor table. It must cover every
//     label the stage's handler declares.
//   - DeclareFanOut: after the source stage, a group of member stages runs
//     concurrently; the join stage runs once all of them have finished.
//   - DeclareDebateLoop: an ordered rotation of stages that repeats until the
//     per-run round limit is reached or a member concludes early. One round
//     is one full rotation.
//
// Builder methods never fail on their own. Every problem is collected and
// reported together by Compile as a *ValidationError, so a broken pipeline
// definition can be fixed in one pass.
//
// # Routing
//
// Compiled.Route resolves the successor of a stage from the label its
// handler returned. For debate-loop members it also advances the run's round
// counter through a RoundTracker and forces the loop exit once the limit is
// reached, whatever the handler asked for.
package graph
