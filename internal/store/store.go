// Package store defines the durable record of run progress and results.
// Implementations live in inmemorystore (single process) and redisstore
// (shared, TTL-bound).
package store

import (
	"context"
	"errors"

	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/state"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrResultExists = errors.New("result already recorded")
)

// Store persists progress events and terminal results keyed by run.
type Store interface {
	// AppendProgress records an event as the latest for its run and adds it
	// to the run's history.
	AppendProgress(ctx context.Context, id state.RunID, ev progress.Event) error
	// LatestProgress returns the most recent event, or ErrNotFound.
	LatestProgress(ctx context.Context, id state.RunID) (progress.Event, error)
	// ProgressHistory returns every recorded event in emission order.
	ProgressHistory(ctx context.Context, id state.RunID) ([]progress.Event, error)
	// PutResult records the terminal outcome. A second call for the same run
	// fails with ErrResultExists and leaves the first result in place.
	PutResult(ctx context.Context, id state.RunID, res progress.Result) error
	// GetResult returns the terminal outcome, or ErrNotFound.
	GetResult(ctx context.Context, id state.RunID) (progress.Result, error)
}
