// Package researchers provides the investment debate: a bull and a bear
// researcher argue over the analyst reports, and the research manager turns
// the transcript into an investment plan.
package researchers

import (
	"context"
	"fmt"

	"github.com/vk/tradegrid/internal/agent"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
)

// Stage kinds provided by this module.
const (
	KindBull    = "bull_researcher"
	KindBear    = "bear_researcher"
	KindManager = "research_manager"
)

// DefaultDebate is the loop the researchers read their transcript from.
const DefaultDebate = "investment"

// Plan is the artifact written by the research manager.
const Plan = "investment_plan"

// Module implements the registry.Module interface for this package.
type Module struct{}

type side struct {
	kind         string
	role         string
	instructions string
}

var sides = []side{
	{
		kind:         KindBull,
		role:         "bull researcher",
		instructions: "You argue the bull case. Build on the analyst reports, stress growth and catalysts, and rebut the bear's last points directly.",
	},
	{
		kind:         KindBear,
		role:         "bear researcher",
		instructions: "You argue the bear case. Stress risks, weaknesses and overvaluation, and rebut the bull's last points directly.",
	},
}

func debater(p agent.Persona, debate string) stage.Handler {
	return stage.NewFunc(stage.KindResearcher, func(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
		prompt := fmt.Sprintf("Continue the debate on %s.\n%s", view.Params().Symbol, agent.Brief(view, agent.Reports(view), debate))
		text, err := p.Ask(ctx, cs, prompt)
		if err != nil {
			return stage.Result{}, err
		}
		return stage.Result{
			Delta: state.Delta{Argument: &state.Argument{Text: text}},
			Label: stage.LabelContinue,
		}, nil
	}, stage.LabelContinue, stage.LabelConclude)
}

func manager(p agent.Persona, debate string) stage.Handler {
	return stage.NewFunc(stage.KindResearchManager, func(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
		prompt := fmt.Sprintf("Judge the debate on %s and write an investment plan with a clear recommendation.\n%s",
			view.Params().Symbol, agent.Brief(view, agent.Reports(view), debate))
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

func options() []string {
	return append([]string{"debate"}, agent.PersonaOptions...)
}

// Register registers the researcher and research manager stage kinds.
func (m *Module) Register(r *registry.Registry) {
	for _, s := range sides {
		r.RegisterStage(s.kind, &registry.Registered{
			Options: options(),
			Factory: func(spec registry.Spec) (stage.Handler, error) {
				p, err := agent.FromSpec(spec, s.role, s.instructions)
				if err != nil {
					return nil, err
				}
				debate, err := spec.String("debate", DefaultDebate)
				if err != nil {
					return nil, err
				}
				return debater(p, debate), nil
			},
		})
	}
	r.RegisterStage(KindManager, &registry.Registered{
		Options: options(),
		Factory: func(spec registry.Spec) (stage.Handler, error) {
			p, err := agent.FromSpec(spec, "research manager",
				"You manage the research team. Weigh both sides of the debate and commit to BUY, SELL or HOLD with a concrete plan.")
			if err != nil {
				return nil, err
			}
			debate, err := spec.String("debate", DefaultDebate)
			if err != nil {
				return nil, err
			}
			return manager(p, debate), nil
		},
	})
}
