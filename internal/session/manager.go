package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/tradegrid/internal/concurrency"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/engine"
	"github.com/vk/tradegrid/internal/graph"
	"github.com/vk/tradegrid/internal/pipeline"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/report"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/store"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrNotReady     = errors.New("run has not finished")
	ErrShuttingDown = errors.New("session manager is shutting down")
)

// DefaultRetention is how long a finished run stays in memory.
const DefaultRetention = 10 * time.Minute

// Config wires a Manager to the rest of the system.
type Config struct {
	Engine     *engine.Engine
	Controller *concurrency.Controller
	Catalog    *pipeline.Catalog
	Reporter   *report.Reporter
	// Retention keeps finished runs in memory; afterwards they are served
	// from the store. Zero means DefaultRetention.
	Retention time.Duration
}

type run struct {
	st     *state.State
	rep    *report.Run
	cancel context.CancelCauseFunc
	done   chan struct{}
	result progress.Result
}

// Manager runs analyses and answers queries about them. It is safe for
// concurrent use.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	runs    map[state.RunID]*run
	closing bool
	wg      sync.WaitGroup
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("session manager requires an engine")
	case cfg.Controller == nil:
		return nil, errors.New("session manager requires a concurrency controller")
	case cfg.Catalog == nil:
		return nil, errors.New("session manager requires a pipeline catalog")
	case cfg.Reporter == nil:
		return nil, errors.New("session manager requires a reporter")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Manager{cfg: cfg, runs: make(map[state.RunID]*run)}, nil
}

// Submit validates req, queues the run for admission and returns its id
// without waiting for it to start. When the admission queue is full it fails
// with concurrency.ErrResourceExhausted and no run is created. Requests whose
// round limits would take the run past the engine step ceiling are rejected
// with state.ErrInvalidParams.
func (m *Manager) Submit(ctx context.Context, req Request) (state.RunID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	g, err := m.cfg.Catalog.Get(ctx, req.Analysts)
	if err != nil {
		return "", err
	}

	id := state.NewRunID()
	st := state.New(id, req.Params())
	for loop, n := range m.roundLimits(req) {
		if _, ok := g.Loop(loop); ok {
			st.SetRoundLimit(loop, n)
		}
	}
	estimate := g.EstimateSteps(func(l *graph.DebateLoop) int {
		return st.RoundLimit(l.Name, l.MaxRounds)
	})
	if ceiling := m.cfg.Engine.StepCeiling(); estimate > ceiling {
		return "", fmt.Errorf("%w: requested rounds need up to %d steps, step ceiling is %d", state.ErrInvalidParams, estimate, ceiling)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return "", ErrShuttingDown
	}
	rsv, err := m.cfg.Controller.Reserve()
	if err != nil {
		return "", err
	}

	logger := ctxlog.FromContext(ctx).With("run_id", id.String())
	runCtx, cancel := context.WithCancelCause(ctxlog.WithLogger(context.WithoutCancel(ctx), logger))
	r := &run{st: st, rep: m.cfg.Reporter.NewRun(id), cancel: cancel, done: make(chan struct{})}
	if err := r.rep.Pending(runCtx, "analysis queued"); err != nil {
		logger.Warn("Failed to report queued run.", "error", err)
	}
	m.runs[id] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.result = m.cfg.Engine.RunReserved(runCtx, rsv, g, st, r.rep)
		close(r.done)
		cancel(nil)
		time.AfterFunc(m.cfg.Retention, func() { m.forget(id) })
	}()

	logger.Info("Analysis submitted", "symbol", req.Symbol, "analysts", req.Analysts, "depth", req.ResearchDepth)
	return id, nil
}

// roundLimits resolves the research depth preset and applies the explicit
// per-debate overrides on top.
func (m *Manager) roundLimits(req Request) map[string]int {
	limits := m.cfg.Catalog.Model().RoundsFor(req.ResearchDepth)
	if limits == nil {
		limits = make(map[string]int)
	}
	if req.MaxDebateRounds > 0 {
		limits[pipeline.InvestmentDebate] = req.MaxDebateRounds
	}
	if req.MaxRiskRounds > 0 {
		limits[pipeline.RiskDebate] = req.MaxRiskRounds
	}
	return limits
}

func (m *Manager) lookup(id state.RunID) (*run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

func (m *Manager) forget(id state.RunID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
}

// Progress returns the latest progress event of a run.
func (m *Manager) Progress(ctx context.Context, id state.RunID) (progress.Event, error) {
	if r, ok := m.lookup(id); ok {
		if ev, ok := r.rep.Latest(); ok {
			return ev, nil
		}
	}
	ev, err := m.cfg.Reporter.Store().LatestProgress(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return progress.Event{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return ev, err
}

// History returns every progress event of a run in emission order.
func (m *Manager) History(ctx context.Context, id state.RunID) ([]progress.Event, error) {
	evs, err := m.cfg.Reporter.Store().ProgressHistory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return evs, err
}

// Result returns the terminal outcome of a run, or ErrNotReady while it is
// still queued or running.
func (m *Manager) Result(ctx context.Context, id state.RunID) (progress.Result, error) {
	if r, ok := m.lookup(id); ok {
		select {
		case <-r.done:
			return r.result, nil
		default:
			return progress.Result{}, fmt.Errorf("%w: %s", ErrNotReady, id)
		}
	}

	st := m.cfg.Reporter.Store()
	res, err := st.GetResult(ctx, id)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return progress.Result{}, err
	}
	if _, err := st.LatestProgress(ctx, id); err == nil {
		return progress.Result{}, fmt.Errorf("%w: %s", ErrNotReady, id)
	}
	return progress.Result{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// Wait blocks until the run finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id state.RunID) (progress.Result, error) {
	r, ok := m.lookup(id)
	if !ok {
		return m.Result(ctx, id)
	}
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return progress.Result{}, context.Cause(ctx)
	}
}

// Cancel stops a queued or running analysis. Cancelling a finished run is a
// no-op.
func (m *Manager) Cancel(ctx context.Context, id state.RunID) error {
	r, ok := m.lookup(id)
	if !ok {
		if _, err := m.Result(ctx, id); errors.Is(err, ErrRunNotFound) {
			return err
		}
		return nil
	}
	ctxlog.FromContext(ctx).Info("Cancelling analysis", "run_id", id.String())
	r.cancel(engine.ErrCancelled)
	return nil
}

// Stats returns the admission and pool statistics.
func (m *Manager) Stats() concurrency.Stats {
	return m.cfg.Controller.Stats()
}

// Shutdown stops accepting runs, cancels the ones in flight and waits for
// them to report their terminal events.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	inflight := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		inflight = append(inflight, r)
	}
	m.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	logger.Info("Shutting down session manager", "runs", len(inflight))
	for _, r := range inflight {
		r.cancel(engine.ErrCancelled)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debug("All runs finished.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs to finish: %w", context.Cause(ctx))
	}
}
