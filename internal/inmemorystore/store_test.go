package inmemorystore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/store"
)

func TestAppendAndLatestProgress(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := state.NewRunID()

	// Nothing recorded yet
	_, err := s.LatestProgress(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.AppendProgress(ctx, id, progress.Event{RunID: id, Seq: 1, Percent: 10}))
	require.NoError(t, s.AppendProgress(ctx, id, progress.Event{RunID: id, Seq: 2, Percent: 20}))

	latest, err := s.LatestProgress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Seq)

	history, err := s.ProgressHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 10, history[0].Percent)
}

func TestPutResult_OverwriteOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := state.NewRunID()

	_, err := s.GetResult(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)

	first := progress.Result{RunID: id, Status: state.StatusCompleted}
	require.NoError(t, s.PutResult(ctx, id, first))

	err = s.PutResult(ctx, id, progress.Result{RunID: id, Status: state.StatusFailed})
	require.ErrorIs(t, err, store.ErrResultExists)

	got, err := s.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, got.Status)

	s.Forget(id)
	_, err = s.GetResult(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// TestStore_ConcurrentAccess verifies that concurrent appends for many runs
// lose no events and that exactly one of many racing result writes wins.
func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	const runs, perRun = 20, 50
	ids := make([]state.RunID, runs)
	for i := range ids {
		ids[i] = state.RunID(fmt.Sprintf("run-%d", i))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < perRun; j++ {
			wg.Add(1)
			go func(id state.RunID, j int) {
				defer wg.Done()
				assert.NoError(t, s.AppendProgress(ctx, id, progress.Event{RunID: id, Seq: j}))
			}(id, j)
		}
	}
	wg.Wait()

	for _, id := range ids {
		history, err := s.ProgressHistory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, perRun)
	}

	var (
		mu   sync.Mutex
		wins int
	)
	id := ids[0]
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.PutResult(ctx, id, progress.Result{RunID: id}) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
