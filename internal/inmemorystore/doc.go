// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the store.Store interface.
//
// # Purpose
//
// This package backs the progress and result records when no Redis address is
// configured: local development, the one-shot CLI mode, and tests. Records
// live as long as the process.
//
// # Concurrency Model
//
// Runs are independent keys, written by their own goroutine and read by any
// number of progress queries. The store therefore keeps one sync.Map for
// per-run event logs and one for results:
//   - Event logs carry their own mutex, so appends for one run never contend
//     with another run.
//   - Results use LoadOrStore, which gives the overwrite-once guarantee
//     without a global lock.
package inmemorystore
