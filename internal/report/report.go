// Package report turns a run's lifecycle into an ordered stream of progress
// events, persists them, and fans them out to notification sinks.
//
// Each run gets its own *Run. Percentages never decrease, stay below 100
// until the run completes, and nothing is accepted after the terminal event.
// Persistence and sink failures are logged and never fail the run.
package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/metrics"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/store"
)

// ErrClosed is returned for events offered after the terminal event.
var ErrClosed = errors.New("run already reported its terminal event")

// Sink receives every event after it has been persisted.
type Sink interface {
	Publish(ctx context.Context, ev progress.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev progress.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev progress.Event) error { return f(ctx, ev) }

// Reporter creates per-run event streams.
type Reporter struct {
	store   store.Store
	sinks   []Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a reporter persisting to st.
func New(st store.Store, m *metrics.Metrics, sinks ...Sink) *Reporter {
	return &Reporter{store: st, sinks: sinks, metrics: m, now: time.Now}
}

// Store returns the backing store.
func (r *Reporter) Store() store.Store { return r.store }

// NewRun opens the event stream for id.
func (r *Reporter) NewRun(id state.RunID) *Run {
	return &Run{r: r, id: id}
}

// Run is the event stream of a single run. It is safe for concurrent use.
type Run struct {
	r       *Reporter
	id      state.RunID
	mu      sync.Mutex
	seq     int
	percent int
	closed  bool
	last    progress.Event
	hasLast bool
}

// ID returns the run identifier.
func (run *Run) ID() state.RunID { return run.id }

// Pending records that the run was accepted and is waiting for admission.
func (run *Run) Pending(ctx context.Context, msg string) error {
	_, err := run.emit(ctx, progress.Event{Status: state.StatusPending, Message: msg}, nil)
	return err
}

// Start records that the run was admitted.
func (run *Run) Start(ctx context.Context, msg string) error {
	_, err := run.emit(ctx, progress.Event{Status: state.StatusRunning, Message: msg}, nil)
	return err
}

// Progress records the completion of one step. percent is clamped so the
// stream never moves backwards and never reports 100 before completion.
func (run *Run) Progress(ctx context.Context, stageName string, percent int, msg string) (progress.Event, error) {
	return run.emit(ctx, progress.Event{
		Status:  state.StatusRunning,
		Stage:   stageName,
		Percent: min(percent, 99),
		Message: msg,
	}, nil)
}

// Finish emits the terminal event derived from res and persists res. It is
// accepted exactly once.
func (run *Run) Finish(ctx context.Context, res progress.Result) (progress.Event, error) {
	ev := progress.Event{
		Status:  res.Status,
		Stage:   res.FailedStage,
		Cause:   res.Cause,
		Message: res.Message,
	}
	if res.Status == state.StatusCompleted {
		ev.Percent = 100
	}
	return run.emit(ctx, ev, &res)
}

// Latest returns the most recent event, if any was emitted.
func (run *Run) Latest() (progress.Event, bool) {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.last, run.hasLast
}

// Closed reports whether the terminal event has been emitted.
func (run *Run) Closed() bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.closed
}

func (run *Run) emit(ctx context.Context, ev progress.Event, res *progress.Result) (progress.Event, error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.closed {
		return progress.Event{}, ErrClosed
	}

	run.seq++
	ev.RunID = run.id
	ev.Seq = run.seq
	ev.Percent = max(ev.Percent, run.percent)
	ev.Time = run.r.now()
	run.percent = ev.Percent
	run.last, run.hasLast = ev, true
	if ev.Terminal() {
		run.closed = true
	}

	logger := ctxlog.FromContext(ctx)
	var persistErr error
	if res != nil {
		if res.FinishedAt.IsZero() {
			res.FinishedAt = ev.Time
		}
		if err := run.r.store.PutResult(ctx, run.id, *res); err != nil {
			logger.Error("Failed to persist run result.", "error", err)
			persistErr = err
		}
	}
	if err := run.r.store.AppendProgress(ctx, run.id, ev); err != nil {
		logger.Warn("Failed to persist progress event.", "seq", ev.Seq, "error", err)
	}
	run.r.metrics.EventEmitted(ev.Status.String())
	for _, s := range run.r.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			logger.Warn("Progress sink rejected event.", "seq", ev.Seq, "error", err)
		}
	}
	return ev, persistErr
}
