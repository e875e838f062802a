package inmemorystore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	logs    sync.Map // Key: state.RunID, Value: *eventLog
	results sync.Map // Key: state.RunID, Value: progress.Result
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{}
}

var _ store.Store = (*Store)(nil)

// AppendProgress adds ev to the run's log.
func (s *Store) AppendProgress(ctx context.Context, id state.RunID, ev progress.Event) error {
	v, _ := s.logs.LoadOrStore(id, &eventLog{})
	log := v.(*eventLog)
	log.mu.Lock()
	log.events = append(log.events, ev)
	log.mu.Unlock()
	return nil
}

// LatestProgress returns the last appended event.
func (s *Store) LatestProgress(ctx context.Context, id state.RunID) (progress.Event, error) {
	v, ok := s.logs.Load(id)
	if !ok {
		return progress.Event{}, fmt.Errorf("progress for run %s: %w", id, store.ErrNotFound)
	}
	log := v.(*eventLog)
	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.events) == 0 {
		return progress.Event{}, fmt.Errorf("progress for run %s: %w", id, store.ErrNotFound)
	}
	return log.events[len(log.events)-1], nil
}

// ProgressHistory returns a copy of the run's log.
func (s *Store) ProgressHistory(ctx context.Context, id state.RunID) ([]progress.Event, error) {
	v, ok := s.logs.Load(id)
	if !ok {
		return nil, fmt.Errorf("progress for run %s: %w", id, store.ErrNotFound)
	}
	log := v.(*eventLog)
	log.mu.Lock()
	defer log.mu.Unlock()
	return slices.Clone(log.events), nil
}

// PutResult stores res unless a result already exists for the run.
func (s *Store) PutResult(ctx context.Context, id state.RunID, res progress.Result) error {
	if _, loaded := s.results.LoadOrStore(id, res); loaded {
		return fmt.Errorf("result for run %s: %w", id, store.ErrResultExists)
	}
	return nil
}

// GetResult returns the stored result.
func (s *Store) GetResult(ctx context.Context, id state.RunID) (progress.Result, error) {
	v, ok := s.results.Load(id)
	if !ok {
		return progress.Result{}, fmt.Errorf("result for run %s: %w", id, store.ErrNotFound)
	}
	return v.(progress.Result), nil
}

// Forget drops everything recorded for a run.
func (s *Store) Forget(id state.RunID) {
	s.logs.Delete(id)
	s.results.Delete(id)
}
