// Package concurrency provides the only cross-run coordination primitives:
// admission control for whole runs and fixed-size pools of external clients.
//
// # Admission
//
// A run first takes a Reservation, which places it in the bounded waiting
// queue, and then converts it into a Slot with Acquire. At most MaxRuns slots
// exist; Acquire waits at most AdmissionWait before failing with
// ErrResourceExhausted. Releasing a Slot is idempotent.
//
// # Pools
//
// Each client kind has a pool of fixed size. Checkout hands out the idle
// member that was returned longest ago and suspends the caller while the pool
// is empty. A Lease tracks the loans of a single run so that every exit path,
// including cancellation mid-call, can return them all with ReleaseAll.
package concurrency
