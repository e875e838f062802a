package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/concurrency"
	"github.com/vk/tradegrid/internal/graph"
	"github.com/vk/tradegrid/internal/inmemorystore"
	"github.com/vk/tradegrid/internal/progress"
	"github.com/vk/tradegrid/internal/report"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/testutil"
)

type fixture struct {
	ctl      *concurrency.Controller
	eng      *Engine
	store    *inmemorystore.Store
	reporter *report.Reporter
	timeline *testutil.Timeline
}

func newFixture(t *testing.T, ctlCfg concurrency.Config, cfg Config) *fixture {
	t.Helper()
	if ctlCfg.MaxRuns == 0 {
		ctlCfg.MaxRuns = 4
	}
	if cfg.StepCeiling == 0 {
		cfg.StepCeiling = 100
	}
	ctl, err := concurrency.New(ctlCfg)
	require.NoError(t, err)

	f := &fixture{ctl: ctl, store: inmemorystore.New(), timeline: &testutil.Timeline{}}
	cfg.BeforeStage = f.timeline.Enter
	f.eng, err = New(ctl, cfg)
	require.NoError(t, err)
	f.reporter = report.New(f.store, nil)
	return f
}

func (f *fixture) run(ctx context.Context, g *graph.Compiled, id state.RunID) (progress.Result, *state.State, *report.Run) {
	st := state.New(id, state.Params{Symbol: "AAPL", AsOf: "2025-01-02"})
	rep := f.reporter.NewRun(id)
	return f.eng.Run(ctx, g, st, rep), st, rep
}

func (f *fixture) history(t *testing.T, id state.RunID) []progress.Event {
	t.Helper()
	events, err := f.store.ProgressHistory(context.Background(), id)
	require.NoError(t, err)
	return events
}

// requireWellFormedStream checks that percentages never decrease, exactly one
// event is terminal, and that it is the last one and matches the run status.
func requireWellFormedStream(t *testing.T, events []progress.Event, status state.Status) {
	t.Helper()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "percent decreased at seq %d", events[i].Seq)
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.Terminal(), "terminal event before the end at seq %d", ev.Seq)
	}
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, status, last.Status)
}

func compile(t *testing.T, b *graph.Builder) *graph.Compiled {
	t.Helper()
	g, err := b.Compile()
	require.NoError(t, err)
	return g
}

func linear(handlers map[string]stage.Handler, order ...string) *graph.Builder {
	b := graph.NewBuilder()
	for _, name := range order {
		b.Register(name, handlers[name])
	}
	b.SetEntry(order[0])
	for i := 0; i < len(order)-1; i++ {
		b.Connect(order[i], order[i+1])
	}
	b.MarkTerminal(order[len(order)-1])
	return b
}

func TestNew_Validates(t *testing.T) {
	ctl, err := concurrency.New(concurrency.Config{MaxRuns: 1})
	require.NoError(t, err)

	testCases := []struct {
		name string
		ctl  *concurrency.Controller
		cfg  Config
	}{
		{"missing controller", nil, Config{StepCeiling: 10}},
		{"zero ceiling", ctl, Config{}},
		{"negative ceiling", ctl, Config{StepCeiling: -1}},
		{"negative timeout", ctl, Config{StepCeiling: 10, RunTimeout: -time.Second}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.ctl, tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestRun_CompletesLinearPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{})
	g := compile(t, linear(map[string]stage.Handler{
		"market": testutil.Produce("market"),
		"trader": testutil.Produce("plan"),
		"risk":   testutil.Decide(state.ActionBuy),
	}, "market", "trader", "risk"))
	ctx, _ := testutil.Context(t)

	res, st, rep := f.run(ctx, g, "linear")

	require.Equal(t, state.StatusCompleted, res.Status)
	require.NotNil(t, res.Decision)
	assert.Equal(t, state.ActionBuy, res.Decision.Action)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, progress.CauseNone, res.Cause)
	assert.Equal(t, state.StatusCompleted, st.Status())
	assert.True(t, rep.Closed())

	events := f.history(t, "linear")
	requireWellFormedStream(t, events, state.StatusCompleted)
	assert.Equal(t, 100, events[len(events)-1].Percent)
	assert.Equal(t, []string{"", "market", "trader", "risk"}, []string{events[0].Stage, events[1].Stage, events[2].Stage, events[3].Stage})

	stored, err := f.store.GetResult(context.Background(), "linear")
	require.NoError(t, err)
	assert.Equal(t, res.Status, stored.Status)

	stats := f.ctl.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestRun_EndToEndTradingPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{})
	rec := testutil.NewRecorder()

	b := graph.NewBuilder()
	b.Register("start", rec.Wrap("start", testutil.Noop()))
	b.Register("market", rec.Wrap("market", testutil.Produce("market_report")))
	b.Register("news", rec.Wrap("news", testutil.Produce("news_report")))
	for _, name := range []string{"bull", "bear", "risky", "safe", "neutral"} {
		b.Register(name, rec.Wrap(name, testutil.Argue(stage.LabelContinue)))
	}
	b.Register("research_manager", rec.Wrap("research_manager", testutil.Produce("investment_plan")))
	b.Register("trader", rec.Wrap("trader", testutil.Produce("trader_plan")))
	b.Register("risk_manager", rec.Wrap("risk_manager", testutil.Decide(state.ActionSell)))
	b.SetEntry("start")
	b.DeclareFanOut("start", []string{"market", "news"}, "bull")
	b.DeclareDebateLoop("investment", []string{"bull", "bear"}, 2, "research_manager")
	b.Connect("research_manager", "trader")
	b.Connect("trader", "risky")
	b.DeclareDebateLoop("risk", []string{"risky", "safe", "neutral"}, 1, "risk_manager")
	b.MarkTerminal("risk_manager")
	g := compile(t, b)
	ctx, _ := testutil.Context(t)

	res, st, _ := f.run(ctx, g, "e2e")

	require.Equal(t, state.StatusCompleted, res.Status)
	require.NotNil(t, res.Decision)
	assert.Equal(t, state.ActionSell, res.Decision.Action)
	assert.Equal(t, 2, rec.Calls("bull"))
	assert.Equal(t, 2, rec.Calls("bear"))
	for _, name := range []string{"risky", "safe", "neutral", "research_manager", "trader", "risk_manager", "market", "news"} {
		assert.Equal(t, 1, rec.Calls(name), name)
	}
	assert.Equal(t, 2, st.Round("investment"))
	assert.Equal(t, 1, st.Round("risk"))

	view := st.View()
	debate := view.Debate("investment")
	require.Len(t, debate, 4)
	assert.Equal(t, []int{1, 1, 2, 2}, []int{debate[0].Round, debate[1].Round, debate[2].Round, debate[3].Round})
	assert.Equal(t, "bull", debate[0].Speaker)
	assert.Equal(t, "bear", debate[1].Speaker)

	order := rec.Order()
	assert.Equal(t, "start", order[0])
	assert.ElementsMatch(t, []string{"market", "news"}, order[1:3])
	assert.Equal(t, []string{"bull", "bear", "bull", "bear", "research_manager", "trader", "risky", "safe", "neutral", "risk_manager"}, order[3:])
	assert.Equal(t, len(order), res.Steps)

	requireWellFormedStream(t, f.history(t, "e2e"), state.StatusCompleted)
}

func TestRun_PerRunRoundLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{})
	rec := testutil.NewRecorder()
	b := graph.NewBuilder()
	b.Register("bull", rec.Wrap("bull", testutil.Argue(stage.LabelContinue)))
	b.Register("bear", rec.Wrap("bear", testutil.Argue(stage.LabelContinue)))
	b.Register("done", testutil.Decide(state.ActionHold))
	b.SetEntry("bull")
	b.DeclareDebateLoop("investment", []string{"bull", "bear"}, 3, "done")
	b.MarkTerminal("done")
	g := compile(t, b)

	st := state.New("limited", state.Params{Symbol: "AAPL"})
	st.SetRoundLimit("investment", 1)
	res := f.eng.Run(context.Background(), g, st, f.reporter.NewRun("limited"))

	require.Equal(t, state.StatusCompleted, res.Status)
	assert.Equal(t, 1, rec.Calls("bull"))
	assert.Equal(t, 1, rec.Calls("bear"))
}

func TestRun_ConcludeLeavesLoopEarly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{})
	rec := testutil.NewRecorder()
	b := graph.NewBuilder()
	b.Register("bull", rec.Wrap("bull", testutil.Argue(stage.LabelConclude)))
	b.Register("bear", rec.Wrap("bear", testutil.Argue(stage.LabelContinue)))
	b.Register("done", testutil.Decide(state.ActionHold))
	b.SetEntry("bull")
	b.DeclareDebateLoop("investment", []string{"bull", "bear"}, 5, "done")
	b.MarkTerminal("done")

	res, _, _ := f.run(context.Background(), compile(t, b), "conclude")

	require.Equal(t, state.StatusCompleted, res.Status)
	assert.Equal(t, 1, rec.Calls("bull"))
	assert.Equal(t, 0, rec.Calls("bear"))
	assert.Equal(t, 2, res.Steps)
}

func TestRun_StepCeiling(t *testing.T) {
	t.Parallel()
	loop := func() *graph.Compiled {
		b := graph.NewBuilder()
		b.Register("bull", testutil.Argue(stage.LabelContinue))
		b.Register("bear", testutil.Argue(stage.LabelContinue))
		b.Register("done", testutil.Decide(state.ActionHold))
		b.SetEntry("bull")
		b.DeclareDebateLoop("investment", []string{"bull", "bear"}, 1000, "done")
		b.MarkTerminal("done")
		return compile(t, b)
	}()

	testCases := []struct {
		name    string
		ceiling int
		rounds  int
		status  state.Status
		steps   int
	}{
		{"runaway loop is stopped", 10, 1000, state.StatusFailed, 10},
		{"exact fit completes", 5, 2, state.StatusCompleted, 5},
		{"one short fails", 4, 2, state.StatusFailed, 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, concurrency.Config{}, Config{StepCeiling: tc.ceiling})
			id := state.RunID(tc.name)
			st := state.New(id, state.Params{Symbol: "AAPL"})
			st.SetRoundLimit("investment", tc.rounds)

			done := make(chan progress.Result, 1)
			go func() { done <- f.eng.Run(context.Background(), loop, st, f.reporter.NewRun(id)) }()
			var res progress.Result
			select {
			case res = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("run did not terminate")
			}

			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.steps, res.Steps)
			assert.LessOrEqual(t, res.Steps, tc.ceiling)
			if tc.status == state.StatusFailed {
				assert.Equal(t, progress.CauseStepLimitExceeded, res.Cause)
				assert.Nil(t, res.Decision)
			}
			requireWellFormedStream(t, f.history(t, id), tc.status)
		})
	}
}

func TestRun_StepCeilingCoversFanOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{StepCeiling: 2})
	rec := testutil.NewRecorder()
	b := graph.NewBuilder()
	b.Register("start", testutil.Noop())
	b.Register("a", rec.Wrap("a", testutil.Produce("a")))
	b.Register("b", rec.Wrap("b", testutil.Produce("b")))
	b.Register("done", testutil.Noop())
	b.SetEntry("start")
	b.DeclareFanOut("start", []string{"a", "b"}, "done")
	b.MarkTerminal("done")

	res, _, _ := f.run(context.Background(), compile(t, b), "fanout-ceiling")

	assert.Equal(t, progress.CauseStepLimitExceeded, res.Cause)
	assert.Equal(t, 1, res.Steps)
	assert.Zero(t, rec.Calls("a"))
	assert.Zero(t, rec.Calls("b"))
}

func TestRun_FanOutJoinSeesEveryMember(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{})
	members := []string{"market", "fundamentals", "news", "social"}
	join := stage.NewFunc(stage.KindResearcher, func(ctx context.Context, v state.View, _ stage.Clients) (stage.Result, error) {
		for _, m := range members {
			if _, ok := v.Artifact(m); !ok {
				return stage.Result{}, errors.New("missing artifact " + m)
			}
		}
		return stage.Result{Delta: state.Delta{Decision: &state.Decision{Action: state.ActionHold}}}, nil
	})

	b := graph.NewBuilder()
	b.Register("start", testutil.Noop())
	for _, m := range members {
		b.Register(m, testutil.Produce(m))
	}
	b.Register("join", join)
	b.SetEntry("start")
	b.DeclareFanOut("start", members, "join")
	b.MarkTerminal("join")

	res, st, _ := f.run(context.Background(), compile(t, b), "join")

	require.Equal(t, state.StatusCompleted, res.Status, res.Message)
	assert.ElementsMatch(t, members, st.View().ArtifactNames())
	assert.Equal(t, 6, res.Steps)

	events := f.history(t, "join")
	requireWellFormedStream(t, events, state.StatusCompleted)
	var stages []string
	for _, ev := range events[2:6] {
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, members, stages)
}

func TestRun_FanOutFailureAbortsGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{})
	rec := testutil.NewRecorder()
	boom := &clients.Error{Op: "news", Status: 503, Retryable: true, Err: errors.New("unavailable")}

	b := graph.NewBuilder()
	b.Register("start", testutil.Noop())
	b.Register("market", testutil.Produce("market"))
	b.Register("news", testutil.Fail(boom))
	b.Register("social", testutil.Block())
	b.Register("join", rec.Wrap("join", testutil.Decide(state.ActionHold)))
	b.SetEntry("start")
	b.DeclareFanOut("start", []string{"market", "news", "social"}, "join")
	b.MarkTerminal("join")

	res, st, _ := f.run(context.Background(), compile(t, b), "fanout-fail")

	require.Equal(t, state.StatusFailed, res.Status)
	assert.Equal(t, progress.CauseStageFailure, res.Cause)
	assert.Equal(t, "news", res.FailedStage)
	assert.True(t, res.Retryable)
	assert.Empty(t, st.View().ArtifactNames(), "no member may mutate state after a sibling failed")
	assert.Zero(t, rec.Calls("join"))
	assert.Nil(t, res.Decision)
	requireWellFormedStream(t, f.history(t, "fanout-fail"), state.StatusFailed)
}

func TestRun_CancelMidFanOutReleasesResources(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{
		MaxRuns: 1,
		Pools: []concurrency.PoolConfig{{
			Kind:    clients.KindLLM,
			Size:    2,
			Factory: func() (clients.Client, error) { return testutil.BlockingClient(), nil },
		}},
	}, Config{})

	b := graph.NewBuilder()
	b.Register("start", testutil.Noop())
	b.Register("market", testutil.Call("market", clients.KindLLM))
	b.Register("news", testutil.Call("news", clients.KindLLM))
	b.Register("join", testutil.Decide(state.ActionHold))
	b.SetEntry("start")
	b.DeclareFanOut("start", []string{"market", "news"}, "join")
	b.MarkTerminal("join")
	g := compile(t, b)

	pool, ok := f.ctl.Pool(clients.KindLLM)
	require.True(t, ok)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	done := make(chan struct{})
	var (
		res progress.Result
		rep *report.Run
	)
	go func() {
		defer close(done)
		res, _, rep = f.run(ctx, g, "cancel")
	}()

	require.Eventually(t, func() bool { return pool.Stats().Idle == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel(ErrCancelled)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not release within the bound")
	}

	assert.Equal(t, state.StatusCancelled, res.Status)
	assert.Equal(t, progress.CauseCancelled, res.Cause)
	assert.Nil(t, res.Decision)
	assert.Equal(t, 2, pool.Stats().Idle)
	assert.Equal(t, 0, f.ctl.Stats().Active)
	assert.Equal(t, uint64(1), f.ctl.Stats().Cancelled)

	_, err := rep.Progress(context.Background(), "late", 50, "")
	require.ErrorIs(t, err, report.ErrClosed)
	requireWellFormedStream(t, f.history(t, "cancel"), state.StatusCancelled)

	// The slot is free again.
	next, _, _ := f.run(context.Background(), compile(t, linear(map[string]stage.Handler{"only": testutil.Noop()}, "only")), "after-cancel")
	assert.Equal(t, state.StatusCompleted, next.Status)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{}, Config{RunTimeout: 30 * time.Millisecond})
	g := compile(t, linear(map[string]stage.Handler{
		"market": testutil.Produce("market"),
		"stuck":  testutil.Block(),
		"done":   testutil.Noop(),
	}, "market", "stuck", "done"))

	res, _, _ := f.run(context.Background(), g, "timeout")

	assert.Equal(t, state.StatusFailed, res.Status)
	assert.Equal(t, progress.CauseTimeout, res.Cause)
	assert.True(t, res.Retryable)
	assert.Equal(t, 1, res.Steps)
	requireWellFormedStream(t, f.history(t, "timeout"), state.StatusFailed)
}

func TestRun_AdmissionLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{MaxRuns: 2}, Config{})
	release := make(chan struct{})
	g := compile(t, linear(map[string]stage.Handler{
		"work": testutil.Gate("work", release),
		"done": testutil.Noop(),
	}, "work", "done"))

	ids := []state.RunID{"r1", "r2", "r3"}
	results := make(chan progress.Result, len(ids))
	for _, id := range ids {
		go func() {
			res, _, _ := f.run(context.Background(), g, id)
			results <- res
		}()
	}

	work := func() []testutil.ExecutionRecord {
		var out []testutil.ExecutionRecord
		for _, r := range f.timeline.Records() {
			if r.Stage == "work" {
				out = append(out, r)
			}
		}
		return out
	}

	require.Eventually(t, func() bool { return len(work()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, work(), 2, "a third run was admitted while two were active")
	stats := f.ctl.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 1, stats.Queued)

	releasedAt := time.Now()
	release <- struct{}{}
	require.Eventually(t, func() bool { return len(work()) == 3 }, 2*time.Second, 5*time.Millisecond)
	third := work()[2]
	assert.True(t, third.Start.After(releasedAt), "third run entered before a slot was released")

	release <- struct{}{}
	release <- struct{}{}
	for range ids {
		res := <-results
		assert.Equal(t, state.StatusCompleted, res.Status)
	}
	stats = f.ctl.Stats()
	assert.Equal(t, 2, stats.Peak)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, uint64(3), stats.Completed)
}

func TestRun_AdmissionWaitExhausted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, concurrency.Config{MaxRuns: 1, AdmissionWait: 20 * time.Millisecond}, Config{})
	held, err := f.ctl.AcquireSlot(context.Background())
	require.NoError(t, err)
	defer held.Release()

	g := compile(t, linear(map[string]stage.Handler{"only": testutil.Noop()}, "only"))
	res, st, _ := f.run(context.Background(), g, "exhausted")

	assert.Equal(t, state.StatusFailed, res.Status)
	assert.Equal(t, progress.CauseResourceExhausted, res.Cause)
	assert.True(t, res.Retryable)
	assert.Zero(t, res.Steps)
	assert.Equal(t, state.StatusFailed, st.Status())
	assert.Empty(t, f.timeline.Records())

	events := f.history(t, "exhausted")
	require.Len(t, events, 1)
	assert.Equal(t, progress.CauseResourceExhausted, events[0].Cause)
	stored, err := f.store.GetResult(context.Background(), "exhausted")
	require.NoError(t, err)
	assert.True(t, stored.Retryable)
}

func TestRun_StageFailures(t *testing.T) {
	t.Parallel()
	panicky := stage.NewFunc(stage.KindFunc, func(context.Context, state.View, stage.Clients) (stage.Result, error) {
		panic("nil map")
	})
	badLabel := stage.NewFunc(stage.KindFunc, func(context.Context, state.View, stage.Clients) (stage.Result, error) {
		return stage.Result{Label: "maybe"}, nil
	})
	fatal := &clients.Error{Op: "chat", Status: 400, Err: errors.New("bad request")}
	clientTimeout := &clients.Error{Op: "chat", Retryable: true, Err: fmt.Errorf("Post %q: %w", "http://llm/api", context.DeadlineExceeded)}

	testCases := []struct {
		name      string
		handler   stage.Handler
		retryable bool
		wantErr   error
	}{
		{"handler panic", panicky, false, ErrHandlerPanic},
		{"undeclared label", badLabel, false, graph.ErrUnknownLabel},
		{"fatal client error", testutil.Fail(fatal), false, nil},
		{"client timeout", testutil.Fail(clientTimeout), true, context.DeadlineExceeded},
		{"handler-internal cancellation", testutil.Fail(fmt.Errorf("inner op: %w", context.Canceled)), false, context.Canceled},
		{"artifact owned by another stage", testutil.Produce("market"), false, state.ErrArtifactOwned},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, concurrency.Config{}, Config{})
			g := compile(t, linear(map[string]stage.Handler{
				"market": testutil.Produce("market"),
				"broken": tc.handler,
				"done":   testutil.Noop(),
			}, "market", "broken", "done"))
			ctx, logs := testutil.Context(t)

			res, _, _ := f.run(ctx, g, state.RunID(tc.name))

			assert.Equal(t, state.StatusFailed, res.Status)
			assert.Equal(t, progress.CauseStageFailure, res.Cause)
			assert.Equal(t, "broken", res.FailedStage)
			assert.Equal(t, tc.retryable, res.Retryable)
			assert.Equal(t, "stage broken failed", res.Message)
			assert.Contains(t, logs.String(), "Run failed.")
			if tc.wantErr != nil {
				assert.Contains(t, logs.String(), tc.wantErr.Error())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status state.Status
		cause  progress.Cause
		stage  string
	}{
		{"completed", nil, state.StatusCompleted, progress.CauseNone, ""},
		{"cancelled run", ErrCancelled, state.StatusCancelled, progress.CauseCancelled, ""},
		{"run timeout", ErrRunTimeout, state.StatusFailed, progress.CauseTimeout, ""},
		{"parent cancelled without cause", context.Canceled, state.StatusCancelled, progress.CauseCancelled, ""},
		{"step limit", fmt.Errorf("%w: 5 steps", ErrStepLimitExceeded), state.StatusFailed, progress.CauseStepLimitExceeded, ""},
		{"admission exhausted", concurrency.ErrResourceExhausted, state.StatusFailed, progress.CauseResourceExhausted, ""},
		{"stage wrapping cancellation", stage.Fail("news", fmt.Errorf("inner op: %w", context.Canceled)), state.StatusFailed, progress.CauseStageFailure, "news"},
		{"stage wrapping deadline", stage.Fail("market", fmt.Errorf("client: %w", context.DeadlineExceeded)), state.StatusFailed, progress.CauseStageFailure, "market"},
		{"unclassified", errors.New("boom"), state.StatusFailed, progress.CauseStageFailure, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := classify(tc.err)
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.cause, res.Cause)
			assert.Equal(t, tc.stage, res.FailedStage)
		})
	}
}
