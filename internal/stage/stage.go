// Package stage defines the contract every pipeline stage implements.
//
// A Handler receives an immutable state.View plus access to pooled external
// clients, and returns a Result: the delta to merge into the run state and a
// routing label. Handlers are stateless with respect to the run; everything
// they need is in the view and everything they produce is in the result.
package stage

import (
	"context"
	"fmt"

	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/state"
)

// Label is the routing decision a handler returns.
type Label string

const (
	// LabelNext is returned by stages that never branch.
	LabelNext Label = "next"
	// LabelContinue asks a debate loop for another turn.
	LabelContinue Label = "continue"
	// LabelConclude asks a debate loop to exit early.
	LabelConclude Label = "conclude"
)

// Kind enumerates the handler variants the engine knows about.
type Kind int

const (
	KindFunc Kind = iota
	KindDispatch
	KindAnalyst
	KindResearcher
	KindResearchManager
	KindTrader
	KindRiskDebater
	KindRiskManager
)

var kindNames = map[Kind]string{
	KindFunc:            "func",
	KindDispatch:        "dispatch",
	KindAnalyst:         "analyst",
	KindResearcher:      "researcher",
	KindResearchManager: "research_manager",
	KindTrader:          "trader",
	KindRiskDebater:     "risk_debater",
	KindRiskManager:     "risk_manager",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Clients gives a handler access to pooled external clients. Each Invoke
// checks a client out for the duration of the call only.
type Clients interface {
	Invoke(ctx context.Context, kind clients.Kind, req clients.Request) (clients.Response, error)
}

// Result is what a handler hands back to the engine.
type Result struct {
	Delta   state.Delta
	Label   Label
	Message string
}

// Handler is the polymorphic stage contract.
type Handler interface {
	Kind() Kind
	// Labels lists every label Run may return. Conditional routing tables
	// must cover all of them.
	Labels() []Label
	Run(ctx context.Context, view state.View, cs Clients) (Result, error)
}

// RunFunc is the signature of a handler body.
type RunFunc func(ctx context.Context, view state.View, cs Clients) (Result, error)

type funcHandler struct {
	kind   Kind
	labels []Label
	fn     RunFunc
}

// NewFunc builds a Handler from a function. With no labels the handler is
// assumed to return LabelNext.
func NewFunc(kind Kind, fn RunFunc, labels ...Label) Handler {
	if len(labels) == 0 {
		labels = []Label{LabelNext}
	}
	return &funcHandler{kind: kind, labels: labels, fn: fn}
}

func (h *funcHandler) Kind() Kind { return h.kind }

func (h *funcHandler) Labels() []Label { return h.labels }

func (h *funcHandler) Run(ctx context.Context, view state.View, cs Clients) (Result, error) {
	return h.fn(ctx, view, cs)
}
