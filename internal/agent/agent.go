// Package agent holds the plumbing shared by the LLM-backed stage modules:
// prompt assembly from a state view, client invocation and decision parsing.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/vk/tradegrid/internal/clients"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/stage"
	"github.com/vk/tradegrid/internal/state"
)

// ErrEmptyReply is returned when the LLM service answers with no content.
var ErrEmptyReply = errors.New("empty reply from llm service")

// ProposalMarker precedes the recommendation in decision-making replies.
const ProposalMarker = "FINAL TRANSACTION PROPOSAL"

// DefaultConfidence is used when a reply carries no explicit confidence.
const DefaultConfidence = 0.5

// Persona is the fixed role an LLM-backed stage plays.
type Persona struct {
	Role         string
	Instructions string
	Model        string
	Temperature  float64
}

// Ask sends prompt to the LLM service in the persona's role.
func (p Persona) Ask(ctx context.Context, cs stage.Clients, prompt string) (string, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Calling llm service.", "role", p.Role, "model", p.Model)

	resp, err := cs.Invoke(ctx, clients.KindLLM, clients.Request{
		Messages: []clients.Message{
			{Role: "system", Content: p.Instructions},
			{Role: "user", Content: prompt},
		},
		Model:       p.Model,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Role, err)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("%s: %w", p.Role, ErrEmptyReply)
	}
	return content, nil
}

// Fetch calls one data service operation for the run's symbol and date.
func Fetch(ctx context.Context, cs stage.Clients, view state.View, op string, extra map[string]string) (clients.Response, error) {
	params := map[string]string{
		"symbol": view.Params().Symbol,
		"date":   view.Params().AsOf,
	}
	if mt := view.Params().MarketType; mt != "" {
		params["market_type"] = mt
	}
	for k, v := range extra {
		params[k] = v
	}
	resp, err := cs.Invoke(ctx, clients.KindData, clients.Request{Operation: op, Params: params})
	if err != nil {
		return clients.Response{}, fmt.Errorf("fetch %s: %w", op, err)
	}
	return resp, nil
}

// Brief renders the context a stage reasons over: the run parameters, the
// named artifacts that exist, and the transcripts of the given debates.
func Brief(view state.View, artifacts []string, debates ...string) string {
	var b strings.Builder
	p := view.Params()
	fmt.Fprintf(&b, "Symbol: %s\nDate: %s\n", p.Symbol, p.AsOf)
	if p.MarketType != "" {
		fmt.Fprintf(&b, "Market: %s\n", p.MarketType)
	}
	for _, name := range artifacts {
		a, ok := view.Artifact(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", name, a.Content)
	}
	for _, loop := range debates {
		args := view.Debate(loop)
		if len(args) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s debate\n", loop)
		for _, a := range args {
			fmt.Fprintf(&b, "[round %d] %s: %s\n", a.Round, a.Speaker, a.Text)
		}
	}
	return b.String()
}

// Reports returns the names of every analyst report present in view.
func Reports(view state.View) []string {
	var out []string
	for _, name := range view.ArtifactNames() {
		if strings.HasSuffix(name, "_report") {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

var (
	confidencePattern = regexp.MustCompile(`(?i)confidence\s*[:=]\s*([0-9]*\.?[0-9]+)\s*(%?)`)
	proposalPattern   = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(ProposalMarker))
)

// ParseDecision extracts a decision from a reply. The action after
// ProposalMarker wins; without a marker the first action keyword in the
// reply is used.
func ParseDecision(reply string) state.Decision {
	text := reply
	if m := proposalPattern.FindAllStringIndex(reply, -1); len(m) > 0 {
		text = reply[m[len(m)-1][1]:]
	}
	return state.Decision{
		Action:     state.ParseAction(text),
		Confidence: parseConfidence(reply),
		Rationale:  reply,
	}
}

func parseConfidence(reply string) float64 {
	m := confidencePattern.FindStringSubmatch(reply)
	if m == nil {
		return DefaultConfidence
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultConfidence
	}
	if m[2] == "%" || v > 1 {
		v /= 100
	}
	return min(max(v, 0), 1)
}
