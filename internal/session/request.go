package session

import (
	"fmt"

	"github.com/vk/tradegrid/internal/state"
)

// Request describes one analysis to run.
type Request struct {
	Symbol        string   `json:"symbol"`
	AsOf          string   `json:"as_of"`
	Analysts      []string `json:"analysts,omitempty"`
	ResearchDepth int      `json:"research_depth,omitempty"`
	// MaxDebateRounds and MaxRiskRounds override the research depth preset
	// for the investment and risk debates. Zero keeps the preset.
	MaxDebateRounds int    `json:"max_debate_rounds,omitempty"`
	MaxRiskRounds   int    `json:"max_risk_rounds,omitempty"`
	MarketType      string `json:"market_type,omitempty"`
}

// Params returns the run parameters carried by the request.
func (r Request) Params() state.Params {
	return state.Params{
		Symbol:        r.Symbol,
		AsOf:          r.AsOf,
		Analysts:      r.Analysts,
		ResearchDepth: r.ResearchDepth,
		MarketType:    r.MarketType,
	}
}

// Validate checks the request before any run is created.
func (r Request) Validate() error {
	if err := r.Params().Validate(); err != nil {
		return err
	}
	if r.MaxDebateRounds < 0 || r.MaxRiskRounds < 0 {
		return fmt.Errorf("%w: round overrides must not be negative", state.ErrInvalidParams)
	}
	return nil
}
