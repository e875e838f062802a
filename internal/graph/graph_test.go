package graph

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
)

func noop(labels ...stage.Label) stage.Handler {
	return stage.NewFunc(stage.KindFunc, func(ctx context.Context, v state.View, cs stage.Clients) (stage.Result, error) {
		return stage.Result{}, nil
	}, labels...)
}

func requireProblems(t *testing.T, err error, substrings ...string) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, s := range substrings {
		found := slices.ContainsFunc(verr.Problems, func(p string) bool { return strings.Contains(p, s) })
		assert.Truef(t, found, "expected a problem containing %q, got %v", s, verr.Problems)
	}
	return verr
}

// tradingBuilder reproduces the shape of the default pipeline with small
// handlers: start fans out to two analysts, then a two-member debate loop,
// a manager and a terminal stage.
func tradingBuilder(rounds int) *Builder {
	b := NewBuilder()
	b.Register("start", noop())
	b.Register("market", noop())
	b.Register("news", noop())
	b.Register("bull", noop(stage.LabelContinue, stage.LabelConclude))
	b.Register("bear", noop(stage.LabelContinue, stage.LabelConclude))
	b.Register("manager", noop())
	b.Register("done", noop())
	b.SetEntry("start")
	b.DeclareFanOut("start", []string{"market", "news"}, "bull")
	b.DeclareDebateLoop("investment", []string{"bull", "bear"}, rounds, "manager")
	b.Connect("manager", "done")
	b.MarkTerminal("done")
	return b
}

func TestCompile_ValidPipeline(t *testing.T) {
	c, err := tradingBuilder(2).Compile()
	require.NoError(t, err)
	assert.Equal(t, "start", c.Entry())

	start, ok := c.Node("start")
	require.True(t, ok)
	require.NotNil(t, start.FanOut())
	assert.Equal(t, []string{"market", "news"}, start.FanOut().Members)

	loops := c.Loops()
	require.Len(t, loops, 1)
	assert.Equal(t, "investment", loops[0].Name)
}

func TestCompile_IsIdempotent(t *testing.T) {
	b := tradingBuilder(1)
	c1, err := b.Compile()
	require.NoError(t, err)
	c2, err := b.Compile()
	require.NoError(t, err)
	assert.Equal(t, c1.Stages(), c2.Stages())
	assert.NotSame(t, c1, c2)
}

func TestCompile_IncompleteConditionalTable(t *testing.T) {
	b := NewBuilder()
	b.Register("judge", noop("approve", "reject", "escalate"))
	b.Register("ok", noop())
	b.Register("ko", noop())
	b.SetEntry("judge")
	b.ConnectConditional("judge", map[stage.Label]string{"approve": "ok", "reject": "ko"})
	b.MarkTerminal("ok")
	b.MarkTerminal("ko")

	_, err := b.Compile()
	requireProblems(t, err, `no route for label "escalate"`)
}

func TestCompile_ConditionalTableWithUndeclaredLabel(t *testing.T) {
	b := NewBuilder()
	b.Register("judge", noop("approve"))
	b.Register("ok", noop())
	b.SetEntry("judge")
	b.ConnectConditional("judge", map[stage.Label]string{"approve": "ok", "maybe": "ok"})
	b.MarkTerminal("ok")

	_, err := b.Compile()
	requireProblems(t, err, `undeclared label "maybe"`)
}

func TestCompile_Problems(t *testing.T) {
	testCases := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{
			name: "no entry",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.MarkTerminal("a")
			},
			want: "no entry stage set",
		},
		{
			name: "unknown entry",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.MarkTerminal("a")
				b.SetEntry("zzz")
			},
			want: `entry stage "zzz" is unknown`,
		},
		{
			name: "unknown successor",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.SetEntry("a")
				b.Connect("a", "ghost")
			},
			want: `connects to unknown stage "ghost"`,
		},
		{
			name: "non-terminal without edge",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.Register("b", noop())
				b.SetEntry("a")
				b.Connect("a", "b")
			},
			want: `stage "b" is not terminal and has no outgoing edge`,
		},
		{
			name: "unreachable stage",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.Register("island", noop())
				b.SetEntry("a")
				b.MarkTerminal("a")
				b.MarkTerminal("island")
			},
			want: `stage "island" is unreachable`,
		},
		{
			name: "cycle outside a loop",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.Register("b", noop("again", "stop"))
				b.Register("end", noop())
				b.SetEntry("a")
				b.Connect("a", "b")
				b.ConnectConditional("b", map[stage.Label]string{"again": "a", "stop": "end"})
				b.MarkTerminal("end")
			},
			want: "cycle outside a debate loop",
		},
		{
			name: "loop without rounds",
			build: func(b *Builder) {
				b.Register("x", noop())
				b.Register("y", noop())
				b.Register("end", noop())
				b.SetEntry("x")
				b.DeclareDebateLoop("l", []string{"x", "y"}, 0, "end")
				b.MarkTerminal("end")
			},
			want: `debate loop "l" must allow at least one round`,
		},
		{
			name: "loop with unknown exit",
			build: func(b *Builder) {
				b.Register("x", noop())
				b.Register("y", noop())
				b.SetEntry("x")
				b.DeclareDebateLoop("l", []string{"x", "y"}, 1, "nowhere")
			},
			want: `exits to unknown stage "nowhere"`,
		},
		{
			name: "empty loop",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.SetEntry("a")
				b.MarkTerminal("a")
				b.DeclareDebateLoop("l", nil, 1, "a")
			},
			want: "needs at least two members",
		},
		{
			name: "loop entered mid-rotation",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.Register("x", noop())
				b.Register("y", noop())
				b.Register("end", noop())
				b.SetEntry("a")
				b.Connect("a", "y")
				b.DeclareDebateLoop("l", []string{"x", "y"}, 1, "end")
				b.MarkTerminal("end")
			},
			want: `enters debate loop "l" at "y"`,
		},
		{
			name: "fan-out member with own edge",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.Register("m", noop())
				b.Register("end", noop())
				b.SetEntry("a")
				b.DeclareFanOut("a", []string{"m"}, "end")
				b.Connect("m", "end")
				b.MarkTerminal("end")
			},
			want: `fan-out member "m" must not declare its own edges`,
		},
		{
			name: "duplicate registration",
			build: func(b *Builder) {
				b.Register("a", noop())
				b.Register("a", noop())
				b.SetEntry("a")
				b.MarkTerminal("a")
			},
			want: `stage "a" registered more than once`,
		},
		{
			name: "no terminal",
			build: func(b *Builder) {
				b.Register("x", noop())
				b.Register("y", noop())
				b.Register("z", noop())
				b.SetEntry("x")
				b.DeclareDebateLoop("l", []string{"x", "y"}, 1, "z")
				b.Connect("z", "x")
			},
			want: "no terminal stage declared",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			tc.build(b)
			c, err := b.Compile()
			assert.Nil(t, c)
			requireProblems(t, err, tc.want)
		})
	}
}

func TestCompile_AggregatesAllProblems(t *testing.T) {
	b := NewBuilder()
	b.Register("judge", noop("a", "b"))
	b.Register("orphan", noop())
	b.Register("end", noop())
	b.SetEntry("judge")
	b.ConnectConditional("judge", map[stage.Label]string{"a": "end"})
	b.MarkTerminal("end")
	b.DeclareDebateLoop("l", []string{"end", "orphan"}, 0, "ghost")

	_, err := b.Compile()
	verr := requireProblems(t, err, `no route for label "b"`, "must allow at least one round", `exits to unknown stage "ghost"`)
	assert.GreaterOrEqual(t, len(verr.Problems), 3)
}

func TestRoute_DebateLoopExitsAfterExactlyMaxRounds(t *testing.T) {
	for _, rounds := range []int{1, 2, 3} {
		c, err := tradingBuilder(rounds).Compile()
		require.NoError(t, err)
		st := state.New(state.NewRunID(), state.Params{})

		cur, memberSteps := "bull", 0
		for cur == "bull" || cur == "bear" {
			memberSteps++
			require.Less(t, memberSteps, 100, "loop did not terminate")
			tr, err := c.Route(cur, stage.LabelContinue, st)
			require.NoError(t, err)
			cur = tr.Next
			if cur == "manager" {
				assert.True(t, tr.Forced)
				assert.Equal(t, rounds, tr.Round)
			}
		}
		assert.Equal(t, "manager", cur)
		assert.Equal(t, 2*rounds, memberSteps)
		assert.Equal(t, rounds, st.Round("investment"))
	}
}

func TestRoute_PerRunRoundLimitOverridesDefault(t *testing.T) {
	c, err := tradingBuilder(5).Compile()
	require.NoError(t, err)
	st := state.New(state.NewRunID(), state.Params{})
	st.SetRoundLimit("investment", 1)

	tr, err := c.Route("bull", stage.LabelContinue, st)
	require.NoError(t, err)
	assert.Equal(t, "bear", tr.Next)
	tr, err = c.Route("bear", stage.LabelContinue, st)
	require.NoError(t, err)
	assert.Equal(t, "manager", tr.Next)
}

func TestRoute_ConcludeExitsEarly(t *testing.T) {
	c, err := tradingBuilder(3).Compile()
	require.NoError(t, err)
	st := state.New(state.NewRunID(), state.Params{})

	tr, err := c.Route("bull", stage.LabelConclude, st)
	require.NoError(t, err)
	assert.Equal(t, "manager", tr.Next)
	assert.False(t, tr.Forced)
	assert.Equal(t, 0, st.Round("investment"))
}

func TestRoute_FanOutAndTerminal(t *testing.T) {
	c, err := tradingBuilder(1).Compile()
	require.NoError(t, err)
	st := state.New(state.NewRunID(), state.Params{})

	tr, err := c.Route("start", stage.LabelNext, st)
	require.NoError(t, err)
	require.NotNil(t, tr.FanOut)
	assert.Equal(t, "bull", tr.Next)

	tr, err = c.Route("done", stage.LabelNext, st)
	require.NoError(t, err)
	assert.True(t, tr.Done)
}

func TestRoute_UndeclaredLabel(t *testing.T) {
	c, err := tradingBuilder(1).Compile()
	require.NoError(t, err)

	_, err = c.Route("manager", "sideways", nil)
	require.ErrorIs(t, err, ErrUnknownLabel)

	_, err = c.Route("ghost", stage.LabelNext, nil)
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestEstimateSteps(t *testing.T) {
	c, err := tradingBuilder(2).Compile()
	require.NoError(t, err)
	// start, market, news, manager, done + 2 members * 2 rounds.
	assert.Equal(t, 9, c.EstimateSteps(nil))
	assert.Equal(t, 11, c.EstimateSteps(func(*DebateLoop) int { return 3 }))
}
