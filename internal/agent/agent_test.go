package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/state"
)

type fakeClients struct {
	kinds    []clients.Kind
	requests []clients.Request
	reply    clients.Response
	err      error
}

func (f *fakeClients) Invoke(ctx context.Context, kind clients.Kind, req clients.Request) (clients.Response, error) {
	f.kinds = append(f.kinds, kind)
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func TestParseDecision(t *testing.T) {
	testCases := []struct {
		name       string
		reply      string
		action     state.Action
		confidence float64
	}{
		{"marker wins over earlier keywords", "Do not SELL yet.\nFINAL TRANSACTION PROPOSAL: **BUY**", state.ActionBuy, DefaultConfidence},
		{"no marker uses first keyword", "I would sell, then buy later", state.ActionSell, DefaultConfidence},
		{"nothing defaults to hold", "unclear", state.ActionHold, DefaultConfidence},
		{"fractional confidence", "Confidence: 0.8\nFINAL TRANSACTION PROPOSAL: SELL", state.ActionSell, 0.8},
		{"percent confidence", "confidence = 65%\nFINAL TRANSACTION PROPOSAL: HOLD", state.ActionHold, 0.65},
		{"clamped", "confidence: 250", state.ActionHold, 1},
		{"lowercase marker", "final transaction proposal: sell", state.ActionSell, DefaultConfidence},
		{"multibyte text before marker", strings.Repeat("ɐ", 20) + " FINAL TRANSACTION PROPOSAL: **SELL**", state.ActionSell, DefaultConfidence},
		{"case-changing rune before marker", "İİİİ buy now? FINAL TRANSACTION PROPOSAL: HOLD", state.ActionHold, DefaultConfidence},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := ParseDecision(tc.reply)
			assert.Equal(t, tc.action, d.Action)
			assert.InDelta(t, tc.confidence, d.Confidence, 1e-9)
			assert.Equal(t, tc.reply, d.Rationale)
		})
	}
}

func TestPersona_Ask(t *testing.T) {
	p := Persona{Role: "trader", Instructions: "be brief", Model: "m", Temperature: 0.2}

	fc := &fakeClients{reply: clients.Response{Content: "  plan  "}}
	got, err := p.Ask(context.Background(), fc, "question")
	require.NoError(t, err)
	assert.Equal(t, "plan", got)
	require.Len(t, fc.requests, 1)
	assert.Equal(t, []clients.Kind{clients.KindLLM}, fc.kinds)
	assert.Equal(t, "m", fc.requests[0].Model)
	assert.Equal(t, []clients.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "question"}}, fc.requests[0].Messages)

	_, err = p.Ask(context.Background(), &fakeClients{}, "question")
	require.ErrorIs(t, err, ErrEmptyReply)

	boom := &clients.Error{Op: "chat", Status: 503, Retryable: true}
	_, err = p.Ask(context.Background(), &fakeClients{err: boom}, "question")
	require.ErrorIs(t, err, boom)
	assert.True(t, clients.IsRetryable(err))
}

func TestBriefAndFetch(t *testing.T) {
	st := state.New("r1", state.Params{Symbol: "AAPL", AsOf: "2025-01-02", MarketType: "us"})
	require.NoError(t, st.Apply("market", "", state.Delta{Artifact: &state.Artifact{Name: "market_report", Content: "uptrend", Produced: time.Now()}}))
	require.NoError(t, st.Apply("bull", "investment", state.Delta{Argument: &state.Argument{Text: "buy it"}}))
	view := st.View()

	brief := Brief(view, []string{"market_report", "missing_report"}, "investment", "risk")
	assert.Contains(t, brief, "Symbol: AAPL\nDate: 2025-01-02\nMarket: us\n")
	assert.Contains(t, brief, "## market_report\nuptrend")
	assert.Contains(t, brief, "[round 1] bull: buy it")
	assert.NotContains(t, brief, "missing_report")
	assert.NotContains(t, brief, "risk debate")
	assert.Equal(t, []string{"market_report"}, Reports(view))

	fc := &fakeClients{reply: clients.Response{Content: "rows"}}
	resp, err := Fetch(context.Background(), fc, view, clients.OpNews, map[string]string{"source": "social"})
	require.NoError(t, err)
	assert.Equal(t, "rows", resp.Content)
	assert.Equal(t, []clients.Kind{clients.KindData}, fc.kinds)
	assert.Equal(t, map[string]string{"symbol": "AAPL", "date": "2025-01-02", "market_type": "us", "source": "social"}, fc.requests[0].Params)
}
