package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/tradegrid/internal/concurrency"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/graph"
	"github.com/vk/tradegrid/internal/metrics"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/report"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"golang.org/x/sync/errgroup"
)

var (
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	ErrRunTimeout        = fmt.Errorf("run timed out: %w", context.DeadlineExceeded)
	ErrCancelled         = fmt.Errorf("run cancelled: %w", context.Canceled)
	ErrHandlerPanic      = errors.New("stage handler panicked")
)

// Config holds the limits applied to every run.
type Config struct {
	// StepCeiling is the maximum number of stage invocations per run.
	StepCeiling int
	// RunTimeout bounds a run's wall-clock time once admitted. Zero disables it.
	RunTimeout time.Duration
	Metrics    *metrics.Metrics
	// BeforeStage, if set, is called right before a handler is invoked.
	BeforeStage func(id state.RunID, stage string)
}

// Engine executes runs. One Engine serves any number of concurrent runs.
type Engine struct {
	ctl *concurrency.Controller
	cfg Config
}

// New validates cfg and creates an engine admitting runs through ctl.
func New(ctl *concurrency.Controller, cfg Config) (*Engine, error) {
	if ctl == nil {
		return nil, errors.New("engine requires a concurrency controller")
	}
	if cfg.StepCeiling < 1 {
		return nil, fmt.Errorf("step ceiling must be at least 1, got %d", cfg.StepCeiling)
	}
	if cfg.RunTimeout < 0 {
		return nil, fmt.Errorf("run timeout must not be negative, got %s", cfg.RunTimeout)
	}
	return &Engine{ctl: ctl, cfg: cfg}, nil
}

// StepCeiling returns the configured per-run step limit.
func (e *Engine) StepCeiling() int { return e.cfg.StepCeiling }

// Run reserves an admission place and executes the run. It blocks until the
// run reaches a terminal status and returns the persisted outcome.
func (e *Engine) Run(ctx context.Context, g *graph.Compiled, st *state.State, rep *report.Run) progress.Result {
	rsv, err := e.ctl.Reserve()
	if err != nil {
		return e.finish(ctx, st, rep, time.Now(), 0, err)
	}
	return e.RunReserved(ctx, rsv, g, st, rep)
}

// RunReserved executes a run that already holds a place in the admission
// queue. It waits for a slot, drives the graph to completion and always
// releases the slot and the run's clients before the terminal event.
func (e *Engine) RunReserved(ctx context.Context, rsv *concurrency.Reservation, g *graph.Compiled, st *state.State, rep *report.Run) progress.Result {
	logger := ctxlog.FromContext(ctx).With("run_id", st.ID().String())
	ctx = ctxlog.WithLogger(ctx, logger)
	started := time.Now()

	logger.Debug("Waiting for admission slot.")
	slot, err := rsv.Acquire(ctx)
	if err != nil {
		return e.finish(ctx, st, rep, started, 0, err)
	}
	defer slot.Release()
	lease := e.ctl.NewLease()
	defer lease.ReleaseAll()

	if err := st.SetStatus(state.StatusRunning); err != nil {
		return e.finish(ctx, st, rep, started, 0, err)
	}
	logger.Info("🚀 Run admitted.", "symbol", st.Params().Symbol, "waited", time.Since(started))
	if err := rep.Start(ctx, "analysis started"); err != nil {
		logger.Warn("Failed to report run start.", "error", err)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, e.cfg.RunTimeout, ErrRunTimeout)
	}
	steps, runErr := e.drive(runCtx, g, st, rep, lease)
	cancel()

	if n := lease.ReleaseAll(); n > 0 {
		logger.Debug("Reclaimed outstanding clients.", "count", n)
	}
	slot.Release()
	return e.finish(ctx, st, rep, started, steps, runErr)
}

// drive walks the graph from its entry until a terminal node finishes or an
// error stops the run. It returns the number of steps taken.
func (e *Engine) drive(ctx context.Context, g *graph.Compiled, st *state.State, rep *report.Run, cs stage.Clients) (int, error) {
	estimate := g.EstimateSteps(func(l *graph.DebateLoop) int {
		return st.RoundLimit(l.Name, l.MaxRounds)
	})
	steps := 0
	current := g.Entry()

	for {
		if ctx.Err() != nil {
			return steps, context.Cause(ctx)
		}
		node, ok := g.Node(current)
		if !ok {
			return steps, fmt.Errorf("%w %q", graph.ErrUnknownNode, current)
		}
		if steps >= e.cfg.StepCeiling {
			return steps, fmt.Errorf("%w: %d steps taken, next stage %q", ErrStepLimitExceeded, steps, current)
		}

		res, err := e.invoke(ctx, st.ID(), node, st.View(), cs)
		if err != nil {
			return steps, e.stageError(ctx, node.Name(), err)
		}
		if ctx.Err() != nil {
			return steps, context.Cause(ctx)
		}
		if err := st.Apply(node.Name(), loopOf(node), res.Delta); err != nil {
			return steps, e.stageError(ctx, node.Name(), err)
		}
		steps++
		e.reportStep(ctx, rep, node.Name(), steps, estimate, res.Message)

		tr, err := g.Route(node.Name(), res.Label, st)
		if err != nil {
			return steps, e.stageError(ctx, node.Name(), err)
		}
		if tr.Done {
			return steps, nil
		}
		if tr.Round > 0 {
			ctxlog.FromContext(ctx).Debug("Debate round completed.", "loop", tr.Loop, "round", tr.Round, "forced_exit", tr.Forced)
		}
		if tr.FanOut != nil {
			if steps, err = e.fanOut(ctx, g, st, rep, cs, tr.FanOut, steps, estimate); err != nil {
				return steps, err
			}
		}
		current = tr.Next
	}
}

// fanOut runs every member of f concurrently against the same view. Deltas are
// merged in member order only after all members succeed; the first failure
// cancels the others and nothing from the group is applied.
func (e *Engine) fanOut(ctx context.Context, g *graph.Compiled, st *state.State, rep *report.Run, cs stage.Clients, f *graph.FanOut, steps, estimate int) (int, error) {
	if steps+len(f.Members) > e.cfg.StepCeiling {
		return steps, fmt.Errorf("%w: %d steps taken, fan-out from %q needs %d more", ErrStepLimitExceeded, steps, f.From, len(f.Members))
	}
	logger := ctxlog.FromContext(ctx).With("fan_out", f.From)
	logger.Debug("Starting fan-out.", "members", f.Members)

	members := make([]*graph.Node, len(f.Members))
	for i, name := range f.Members {
		node, ok := g.Node(name)
		if !ok {
			return steps, fmt.Errorf("%w %q", graph.ErrUnknownNode, name)
		}
		members[i] = node
	}

	view := st.View()
	results := make([]stage.Result, len(members))
	grp, gctx := errgroup.WithContext(ctx)
	for i, node := range members {
		grp.Go(func() error {
			res, err := e.invoke(gctx, st.ID(), node, view, cs)
			if err != nil {
				return stage.Fail(node.Name(), err)
			}
			results[i] = res
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		if ctx.Err() != nil {
			return steps, context.Cause(ctx)
		}
		var sf *stage.Failure
		if errors.As(err, &sf) {
			e.cfg.Metrics.StageFailed(sf.Stage, sf.Retryable)
		}
		return steps, err
	}

	for i, name := range f.Members {
		if err := st.Apply(name, "", results[i].Delta); err != nil {
			return steps, e.stageError(ctx, name, err)
		}
		steps++
		e.reportStep(ctx, rep, name, steps, estimate, results[i].Message)
	}
	logger.Debug("Fan-out joined.", "join", f.Join)
	return steps, nil
}

// invoke calls a handler with a stage-scoped logger, recovering panics into
// errors so a misbehaving handler only fails its own run.
func (e *Engine) invoke(ctx context.Context, id state.RunID, node *graph.Node, view state.View, cs stage.Clients) (res stage.Result, err error) {
	h := node.Handler()
	logger := ctxlog.FromContext(ctx).With("stage", node.Name(), "kind", h.Kind().String())
	ctx = ctxlog.WithLogger(ctx, logger)

	if e.cfg.BeforeStage != nil {
		e.cfg.BeforeStage(id, node.Name())
	}
	logger.Info("▶️ Starting stage")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		elapsed := time.Since(start)
		e.cfg.Metrics.ObserveStage(node.Name(), h.Kind().String(), elapsed)
		if err != nil {
			logger.Warn("Stage failed.", "duration", elapsed, "error", err)
			return
		}
		logger.Info("✅ Finished stage", "duration", elapsed, "label", res.Label)
	}()

	return h.Run(ctx, view, cs)
}

// stageError attributes err to the stage unless the run itself was stopped,
// in which case the stop reason wins.
func (e *Engine) stageError(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	f := stage.Fail(name, err)
	e.cfg.Metrics.StageFailed(f.Stage, f.Retryable)
	return f
}

func (e *Engine) reportStep(ctx context.Context, rep *report.Run, name string, steps, estimate int, msg string) {
	if msg == "" {
		msg = fmt.Sprintf("%s finished", name)
	}
	if _, err := rep.Progress(ctx, name, steps*100/estimate, msg); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to report progress.", "stage", name, "error", err)
	}
}

// finish classifies the outcome, updates counters and emits the terminal
// event. It runs on a context detached from cancellation so the outcome is
// persisted even when the run was cancelled.
func (e *Engine) finish(ctx context.Context, st *state.State, rep *report.Run, started time.Time, steps int, runErr error) progress.Result {
	ctx = context.WithoutCancel(ctx)
	logger := ctxlog.FromContext(ctx)

	res := classify(runErr)
	res.RunID = st.ID()
	res.Steps = steps
	res.StartedAt = started
	res.FinishedAt = time.Now()
	if err := st.SetStatus(res.Status); err != nil {
		logger.Error("Failed to record terminal status.", "status", res.Status.String(), "error", err)
	}
	if res.Status == state.StatusCompleted {
		res.Decision = st.Decision()
	}
	res.Snapshot = st.Snapshot()

	e.ctl.RecordOutcome(res.Status)
	e.cfg.Metrics.RunFinished(res.Status.String())
	if _, err := rep.Finish(ctx, res); err != nil {
		logger.Error("Failed to report run outcome.", "error", err)
	}

	attrs := []any{"status", res.Status.String(), "steps", steps, "duration", res.FinishedAt.Sub(started)}
	switch res.Status {
	case state.StatusCompleted:
		logger.Info("✅ Run completed.", attrs...)
	case state.StatusCancelled:
		logger.Info("Run cancelled.", attrs...)
	default:
		attrs = append(attrs, "cause", string(res.Cause), "stage", res.FailedStage, "error", runErr)
		logger.Error("❌ Run failed.", attrs...)
	}
	return res
}

// classify maps the error that stopped a run to its terminal outcome.
// Handler detail stays in the logs; the exported message is generic.
//
// A *stage.Failure is only produced while the run context is live, so a
// context error inside one belongs to the handler (an HTTP client timeout,
// say) and not to the run. Bare context errors come from a parent context
// stopped without a cause.
func classify(err error) progress.Result {
	var f *stage.Failure
	switch {
	case err == nil:
		return progress.Result{Status: state.StatusCompleted, Message: "analysis completed"}
	case errors.Is(err, ErrCancelled):
		return cancelled()
	case errors.Is(err, ErrRunTimeout):
		return timedOut()
	case errors.Is(err, ErrStepLimitExceeded):
		return progress.Result{Status: state.StatusFailed, Cause: progress.CauseStepLimitExceeded, Message: "analysis exceeded its step limit"}
	case errors.Is(err, concurrency.ErrResourceExhausted):
		return progress.Result{Status: state.StatusFailed, Cause: progress.CauseResourceExhausted, Retryable: true, Message: "no capacity available, retry later"}
	case errors.As(err, &f):
		return progress.Result{
			Status:      state.StatusFailed,
			Cause:       progress.CauseStageFailure,
			FailedStage: f.Stage,
			Retryable:   f.Retryable,
			Message:     fmt.Sprintf("stage %s failed", f.Stage),
		}
	case errors.Is(err, context.Canceled):
		return cancelled()
	case errors.Is(err, context.DeadlineExceeded):
		return timedOut()
	default:
		return progress.Result{Status: state.StatusFailed, Cause: progress.CauseStageFailure, Message: "analysis failed"}
	}
}

func cancelled() progress.Result {
	return progress.Result{Status: state.StatusCancelled, Cause: progress.CauseCancelled, Message: "analysis cancelled"}
}

func timedOut() progress.Result {
	return progress.Result{Status: state.StatusFailed, Cause: progress.CauseTimeout, Retryable: true, Message: "analysis timed out"}
}

func loopOf(n *graph.Node) string {
	if l := n.Loop(); l != nil {
		return l.Name
	}
	return ""
}
