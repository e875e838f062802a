// Package session is the caller-facing side of the engine. A Manager accepts
// analysis requests, runs each one asynchronously on the engine, and answers
// progress, result and cancellation queries for the runs it started. Runs
// that are no longer held in memory are answered from the durable store.
package session
