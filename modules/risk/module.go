// Package risk provides the risk debate and the final decision. Three
// debaters with different risk appetites critique the trader's proposal in
// turn; the risk manager weighs their arguments and records the decision.
package risk

import (
	"context"
	"fmt"

	"github.com/vk/tradegrid/internal/agent"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/modules/researchers"
	"github.com/vk/tradegrid/modules/trader"
)

// Stage kinds provided by this module.
const (
	KindRisky   = "risky_debater"
	KindSafe    = "safe_debater"
	KindNeutral = "neutral_debater"
	KindManager = "risk_manager"
)

// DefaultDebate is the loop the debaters read their transcript from.
const DefaultDebate = "risk"

// Final is the artifact holding the risk manager's full reasoning.
const Final = "final_decision"

// Module implements the registry.Module interface for this package.
type Module struct{}

type stance struct {
	kind         string
	role         string
	instructions string
}

var stances = []stance{
	{KindRisky, "risky analyst", "You champion high-reward opportunities. Defend bold positioning in the trader's plan and challenge excessive caution."},
	{KindSafe, "safe analyst", "You protect capital. Point out downside risks in the trader's plan and argue for tighter risk controls."},
	{KindNeutral, "neutral analyst", "You weigh both sides. Balance the risky and safe views and propose a moderate adjustment."},
}

func debater(p agent.Persona, debate string) stage.Handler {
	return stage.NewFunc(stage.KindRiskDebater, func(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
		prompt := fmt.Sprintf("Assess the risk of the proposed trade in %s.\n%s",
			view.Params().Symbol, agent.Brief(view, []string{trader.Plan}, debate))
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
	return stage.NewFunc(stage.KindRiskManager, func(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
		prompt := fmt.Sprintf("Decide on the trade in %s. State your confidence and end with '%s: **BUY/HOLD/SELL**'.\n%s",
			view.Params().Symbol, agent.ProposalMarker,
			agent.Brief(view, []string{researchers.Plan, trader.Plan}, debate))
		reply, err := p.Ask(ctx, cs, prompt)
		if err != nil {
			return stage.Result{}, err
		}
		d := agent.ParseDecision(reply)
		return stage.Result{
			Delta: state.Delta{
				Artifact: &state.Artifact{Name: Final, Content: reply, Attributes: map[string]string{"action": string(d.Action)}},
				Decision: &d,
			},
			Label: stage.LabelNext,
		}, nil
	})
}

func options() []string {
	return append([]string{"debate"}, agent.PersonaOptions...)
}

// Register registers the debater and risk manager stage kinds.
func (m *Module) Register(r *registry.Registry) {
	for _, s := range stances {
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
			p, err := agent.FromSpec(spec, "risk manager",
				"You are the risk manager and have the final word. Judge the risk debate and decide whether to execute the trader's plan.")
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
