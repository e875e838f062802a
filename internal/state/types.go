package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunID identifies one analysis run.
type RunID string

// NewRunID returns a fresh random run identifier.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

func (id RunID) String() string { return string(id) }

// DateLayout is the format of Params.AsOf.
const DateLayout = "2006-01-02"

// Params are the caller-supplied inputs of a run.
type Params struct {
	Symbol        string   `json:"symbol"`
	AsOf          string   `json:"as_of"`
	Analysts      []string `json:"analysts"`
	ResearchDepth int      `json:"research_depth"`
	MarketType    string   `json:"market_type,omitempty"`
}

// MaxResearchDepth is the deepest research depth a run may request.
const MaxResearchDepth = 5

// Validate checks the parameters a run cannot start without.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidParams)
	}
	if _, err := time.Parse(DateLayout, p.AsOf); err != nil {
		return fmt.Errorf("%w: as_of must be YYYY-MM-DD: %v", ErrInvalidParams, err)
	}
	if p.ResearchDepth < 0 || p.ResearchDepth > MaxResearchDepth {
		return fmt.Errorf("%w: research_depth must be between 1 and %d, or 0 for pipeline defaults", ErrInvalidParams, MaxResearchDepth)
	}
	return nil
}

// Artifact is a named output produced by one stage.
type Artifact struct {
	Name       string            `json:"name"`
	Stage      string            `json:"stage"`
	Content    string            `json:"content"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Produced   time.Time         `json:"produced"`
}

// Argument is one contribution to a debate loop.
type Argument struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Round   int    `json:"round"`
}

// Action is the final trading recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction finds the first recommendation keyword in text.
// It falls back to HOLD when none is present.
func ParseAction(text string) Action {
	upper := strings.ToUpper(text)
	best, bestAt := ActionHold, -1
	for _, a := range []Action{ActionBuy, ActionSell, ActionHold} {
		if i := strings.Index(upper, string(a)); i >= 0 && (bestAt < 0 || i < bestAt) {
			best, bestAt = a, i
		}
	}
	return best
}

// Decision is the terminal outcome of a successful run.
type Decision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Delta is the set of changes a stage asks the engine to apply.
// Any field may be nil.
type Delta struct {
	Artifact *Artifact
	Argument *Argument
	Decision *Decision
}

// IsEmpty reports whether the delta carries no change.
func (d Delta) IsEmpty() bool {
	return d.Artifact == nil && d.Argument == nil && d.Decision == nil
}
