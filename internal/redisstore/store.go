// Package redisstore implements store.Store on Redis so progress and results
// survive process restarts and can be read by other instances.
//
// Key layout per run:
//
//	analysis_progress:{id}  latest event, JSON, expires after ProgressTTL
//	analysis_events:{id}    list of every event, JSON, expires after ProgressTTL
//	analysis_result:{id}    terminal result, JSON, expires after ResultTTL
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/store"
)

const (
	DefaultProgressTTL = time.Hour
	DefaultResultTTL   = 24 * time.Hour
)

// Config holds connection and retention settings.
type Config struct {
	Address     string
	Password    string
	DB          int
	ProgressTTL time.Duration
	ResultTTL   time.Duration
}

// Store is a Redis-backed store.Store.
type Store struct {
	client      redis.UniversalClient
	progressTTL time.Duration
	resultTTL   time.Duration
}

var _ store.Store = (*Store)(nil)

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, cfg Config) *Store {
	s := &Store{client: client, progressTTL: cfg.ProgressTTL, resultTTL: cfg.ResultTTL}
	if s.progressTTL <= 0 {
		s.progressTTL = DefaultProgressTTL
	}
	if s.resultTTL <= 0 {
		s.resultTTL = DefaultResultTTL
	}
	return s
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func progressKey(id state.RunID) string { return "analysis_progress:" + string(id) }

func eventsKey(id state.RunID) string { return "analysis_events:" + string(id) }

func resultKey(id state.RunID) string { return "analysis_result:" + string(id) }

// AppendProgress writes the latest event and appends it to the history in a
// single transaction.
func (s *Store) AppendProgress(ctx context.Context, id state.RunID, ev progress.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode progress event: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, progressKey(id), raw, s.progressTTL)
		pipe.RPush(ctx, eventsKey(id), raw)
		pipe.Expire(ctx, eventsKey(id), s.progressTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record progress for run %s: %w", id, err)
	}
	return nil
}

// LatestProgress reads analysis_progress:{id}.
func (s *Store) LatestProgress(ctx context.Context, id state.RunID) (progress.Event, error) {
	var ev progress.Event
	if err := s.getJSON(ctx, progressKey(id), &ev); err != nil {
		return progress.Event{}, fmt.Errorf("progress for run %s: %w", id, err)
	}
	return ev, nil
}

// ProgressHistory reads the full analysis_events:{id} list.
func (s *Store) ProgressHistory(ctx context.Context, id state.RunID) ([]progress.Event, error) {
	items, err := s.client.LRange(ctx, eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress history for run %s: %w", id, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("progress for run %s: %w", id, store.ErrNotFound)
	}
	events := make([]progress.Event, 0, len(items))
	for _, item := range items {
		var ev progress.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode progress event for run %s: %w", id, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// PutResult stores the result with SETNX so the first writer wins.
func (s *Store) PutResult(ctx context.Context, id state.RunID, res progress.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	ok, err := s.client.SetNX(ctx, resultKey(id), raw, s.resultTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to store result for run %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("result for run %s: %w", id, store.ErrResultExists)
	}
	return nil
}

// GetResult reads analysis_result:{id}.
func (s *Store) GetResult(ctx context.Context, id state.RunID) (progress.Result, error) {
	var res progress.Result
	if err := s.getJSON(ctx, resultKey(id), &res); err != nil {
		return progress.Result{}, fmt.Errorf("result for run %s: %w", id, err)
	}
	return res, nil
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
