package trader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/testutil"
	"github.com/vk/tradegrid/modules/researchers"
)

func TestTrader(t *testing.T) {
	h, err := registry.New(&Module{}).Build(registry.Spec{Kind: Kind, Name: "trader"})
	require.NoError(t, err)
	assert.Equal(t, stage.KindTrader, h.Kind())

	st := state.New("r1", state.Params{Symbol: "AAPL", AsOf: "2025-01-02"})
	_, err = h.Run(context.Background(), st.View(), testutil.OfflineClients())
	require.ErrorContains(t, err, `trader needs "investment_plan"`)

	require.NoError(t, st.Apply("research_manager", "", state.Delta{Artifact: &state.Artifact{Name: researchers.Plan, Content: "accumulate"}}))
	cs := testutil.OfflineClients()
	res, err := h.Run(context.Background(), st.View(), cs)
	require.NoError(t, err)
	require.NotNil(t, res.Delta.Artifact)
	assert.Equal(t, Plan, res.Delta.Artifact.Name)
	assert.Contains(t, cs.Requests()[0].Request.Messages[1].Content, "accumulate")
}
