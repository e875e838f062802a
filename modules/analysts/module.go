// Package analysts provides the four analyst stage kinds. Each pulls its
// slice of market data, has the LLM service write a report on it, and stores
// that report as "<role>_report".
package analysts

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/tradegrid/internal/agent"
	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/modules/dispatch"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// source is one data service call an analyst makes.
type source struct {
	op    string
	extra map[string]string
}

type analyst struct {
	role         string
	instructions string
	sources      []source
}

var analysts = []analyst{
	{
		role:         "market",
		instructions: "You are a market analyst. Assess price action, volume and technical indicators. Finish with a clear view on the trend.",
		sources:      []source{{op: clients.OpStockData}, {op: clients.OpMarketData}},
	},
	{
		role:         "fundamentals",
		instructions: "You are a fundamentals analyst. Assess financial statements, profitability, balance sheet strength and valuation.",
		sources:      []source{{op: clients.OpFinancialData}},
	},
	{
		role:         "news",
		instructions: "You are a news analyst. Summarise recent company and macro news and judge its likely price impact.",
		sources:      []source{{op: clients.OpNews}},
	},
	{
		role:         "social",
		instructions: "You are a social media analyst. Gauge retail sentiment and discussion momentum around the company.",
		sources:      []source{{op: clients.OpNews, extra: map[string]string{"source": "social"}}},
	},
}

// Roles lists the analyst roles in their canonical order.
func Roles() []string {
	out := make([]string, len(analysts))
	for i, a := range analysts {
		out[i] = a.role
	}
	return out
}

// KindFor returns the stage kind of an analyst role.
func KindFor(role string) string { return role + "_analyst" }

// ReportFor returns the artifact name an analyst role writes.
func ReportFor(role string) string { return role + "_report" }

func (a analyst) handler(p agent.Persona) stage.Handler {
	return stage.NewFunc(stage.KindAnalyst, func(ctx context.Context, view state.View, cs stage.Clients) (stage.Result, error) {
		var data strings.Builder
		for _, src := range a.sources {
			resp, err := agent.Fetch(ctx, cs, view, src.op, src.extra)
			if err != nil {
				return stage.Result{}, err
			}
			fmt.Fprintf(&data, "\n## %s\n%s\n", src.op, resp.Content)
		}

		prompt := fmt.Sprintf("Write the %s analysis report for %s as of %s.\n%s%s",
			a.role, view.Params().Symbol, view.Params().AsOf,
			agent.Brief(view, []string{dispatch.Artifact}), data.String())
		report, err := p.Ask(ctx, cs, prompt)
		if err != nil {
			return stage.Result{}, err
		}
		return stage.Result{
			Delta: state.Delta{Artifact: &state.Artifact{Name: ReportFor(a.role), Content: report}},
			Label: stage.LabelNext,
		}, nil
	})
}

// Register registers one stage kind per analyst role.
func (m *Module) Register(r *registry.Registry) {
	for _, a := range analysts {
		r.RegisterStage(KindFor(a.role), &registry.Registered{
			Options: agent.PersonaOptions,
			Factory: func(spec registry.Spec) (stage.Handler, error) {
				p, err := agent.FromSpec(spec, a.role+" analyst", a.instructions)
				if err != nil {
					return nil, err
				}
				return a.handler(p), nil
			},
		})
	}
}
