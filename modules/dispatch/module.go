// Package dispatch provides the entry stage of an analysis: it loads the
// company profile that every analyst works from and then hands off to the
// analyst fan-out.
package dispatch

import (
	"context"
	"fmt"

	"github.com/vk/tradegrid/internal/agent"
	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
)

// Kind is the stage kind name used in pipeline definitions.
const Kind = "dispatch"

// Artifact is the name of the profile artifact.
const Artifact = "profile"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Run fetches the stock profile.
func Run(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Loading company profile", "symbol", view.Params().Symbol)

	resp, err := agent.Fetch(ctx, cs, view, clients.OpStockInfo, nil)
	if err != nil {
		return stage.Result{}, err
	}
	attrs := make(map[string]string, len(resp.Data))
	for k, v := range resp.Data {
		attrs[k] = fmt.Sprint(v)
	}
	return stage.Result{
		Delta: state.Delta{Artifact: &state.Artifact{Name: Artifact, Content: resp.Content, Attributes: attrs}},
		Label: stage.LabelNext,
	}, nil
}

// Register registers the dispatch stage kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStage(Kind, &registry.Registered{
		Factory: func(registry.Spec) (stage.Handler, error) {
			return stage.NewFunc(stage.KindDispatch, Run), nil
		},
	})
}
