package pipeline

import (
	"github.com/vk/tradegrid/internal/config"
	"github.com/vk/tradegrid/modules/analysts"
	"github.com/vk/tradegrid/modules/dispatch"
	"github.com/vk/tradegrid/modules/researchers"
	"github.com/vk/tradegrid/modules/risk"
	"github.com/vk/tradegrid/modules/trader"
)

// Names of the debate loops in the default pipeline.
const (
	InvestmentDebate = researchers.DefaultDebate
	RiskDebate       = risk.DefaultDebate
)

// DefaultStepCeiling bounds the default pipeline. The deepest preset takes
// 1 + 4 + 3*2 + 1 + 1 + 3*3 + 1 = 23 steps.
const DefaultStepCeiling = 64

// Default returns the trading pipeline used when no pipeline files are given:
// a dispatch stage fans out to the analysts, the bull and bear researchers
// debate, the research manager and trader follow, and the risky, safe and
// neutral debaters argue before the risk manager decides.
func Default() *config.Model {
	m := &config.Model{
		Engine: &config.Engine{Entry: "start", StepCeiling: DefaultStepCeiling},
		Stages: []*config.Stage{{Kind: dispatch.Kind, Name: "start"}},
	}
	for _, role := range analysts.Roles() {
		m.Stages = append(m.Stages, &config.Stage{Kind: analysts.KindFor(role), Name: role})
	}
	m.Stages = append(m.Stages,
		&config.Stage{Kind: researchers.KindBull, Name: "bull"},
		&config.Stage{Kind: researchers.KindBear, Name: "bear"},
		&config.Stage{Kind: researchers.KindManager, Name: "research_manager", Next: "trader"},
		&config.Stage{Kind: trader.Kind, Name: "trader", Next: "risky"},
		&config.Stage{Kind: risk.KindRisky, Name: "risky"},
		&config.Stage{Kind: risk.KindSafe, Name: "safe"},
		&config.Stage{Kind: risk.KindNeutral, Name: "neutral"},
		&config.Stage{Kind: risk.KindManager, Name: "risk_manager", Terminal: true},
	)
	m.FanOuts = []*config.FanOut{{
		Name:       "analysts",
		From:       "start",
		Members:    analysts.Roles(),
		Join:       "bull",
		Selectable: true,
	}}
	m.Debates = []*config.Debate{
		{Name: InvestmentDebate, Members: []string{"bull", "bear"}, MaxRounds: 1, Exit: "research_manager"},
		{Name: RiskDebate, Members: []string{"risky", "safe", "neutral"}, MaxRounds: 1, Exit: "risk_manager"},
	}
	for level, rounds := range [][2]int{{1, 1}, {1, 1}, {2, 2}, {3, 2}, {3, 3}} {
		m.Depths = append(m.Depths, &config.Depth{
			Level:  level + 1,
			Rounds: map[string]int{InvestmentDebate: rounds[0], RiskDebate: rounds[1]},
		})
	}
	return m
}
