// Package trader provides the trader stage, which turns the research team's
// investment plan into a concrete trading proposal.
package trader

import (
	"context"
	"fmt"

	"github.com/vk/tradegrid/internal/agent"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/modules/researchers"
)

// Kind is the stage kind name used in pipeline definitions.
const Kind = "trader"

// Plan is the artifact written by the trader.
const Plan = "trader_plan"

const instructions = "You are a trader. Turn the investment plan into a concrete proposal with entry, sizing and stop levels. " +
	"End with '" + agent.ProposalMarker + ": **BUY/HOLD/SELL**'."

// Module implements the registry.Module interface for this package.
type Module struct{}

func handler(p agent.Persona) stage.Handler {
	return stage.NewFunc(stage.KindTrader, func(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
		if _, ok := view.Artifact(researchers.Plan); !ok {
			return stage.Result{}, fmt.Errorf("trader needs %q, which no earlier stage produced", researchers.Plan)
		}
		prompt := fmt.Sprintf("Propose a trade in %s.\n%s", view.Params().Symbol,
			agent.Brief(view, append(agent.Reports(view), researchers.Plan)))
		plan, err := p.Ask(ctx, cs, prompt)
		if err != nil {
			return stage.Result{}, err
		}
		d := agent.ParseDecision(plan)
		return stage.Result{
			Delta: state.Delta{Artifact: &state.Artifact{
				Name:       Plan,
				Content:    plan,
				Attributes: map[string]string{"action": string(d.Action)},
			}},
			Label: stage.LabelNext,
		}, nil
	})
}

// Register registers the trader stage kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterStage(Kind, &registry.Registered{
		Options: agent.PersonaOptions,
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			p, err := agent.FromSpec(spec, "trader", instructions)
			if err != nil {
				return nil, err
			}
			return handler(p), nil
		},
	})
}
