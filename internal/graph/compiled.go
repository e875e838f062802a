package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/vk/tradegrid/internal/stage"
)

var (
	ErrUnknownNode  = errors.New("unknown stage")
	ErrUnknownLabel = errors.New("label has no route")
)

// Node is a compiled stage.
type Node struct {
	name      string
	handler   stage.Handler
	next      string
	routes    map[stage.Label]string
	terminal  bool
	fanOut    *FanOut
	member    *FanOut
	loop      *DebateLoop
	loopIndex int
}

func (n *Node) Name() string { return n.name }

func (n *Node) Handler() stage.Handler { return n.handler }

func (n *Node) Terminal() bool { return n.terminal }

// FanOut returns the group that runs after this stage, if any.
func (n *Node) FanOut() *FanOut { return n.fanOut }

// Loop returns the debate loop this stage belongs to, if any.
func (n *Node) Loop() *DebateLoop { return n.loop }

// Compiled is an immutable, validated pipeline graph. It is safe to share
// between any number of concurrent runs.
type Compiled struct {
	nodes map[string]*Node
	order []string
	entry string
	loops map[string]*DebateLoop
}

func (c *Compiled) known(name string) bool {
	_, ok := c.nodes[name]
	return ok
}

// Entry returns the first stage of every run.
func (c *Compiled) Entry() string { return c.entry }

// Node looks up a stage by name.
func (c *Compiled) Node(name string) (*Node, bool) {
	n, ok := c.nodes[name]
	return n, ok
}

// Stages lists stage names in registration order.
func (c *Compiled) Stages() []string { return slices.Clone(c.order) }

// Loops lists the debate loops in the registration order of their first
// members.
func (c *Compiled) Loops() []*DebateLoop {
	out := make([]*DebateLoop, 0, len(c.loops))
	for _, name := range c.order {
		n := c.nodes[name]
		if n.loop != nil && n.loopIndex == 0 {
			out = append(out, n.loop)
		}
	}
	return out
}

// Loop looks up a debate loop by name.
func (c *Compiled) Loop(name string) (*DebateLoop, bool) {
	l, ok := c.loops[name]
	return l, ok
}

// successors lists the direct successors of n. Rotation edges between loop
// members are included only when withRotation is set.
func (c *Compiled) successors(n *Node, withRotation bool) []string {
	var out []string
	if n.next != "" {
		out = append(out, n.next)
	}
	for _, l := range sortedLabels(n.routes) {
		out = append(out, n.routes[l])
	}
	if n.fanOut != nil {
		out = append(out, n.fanOut.Members...)
		out = append(out, n.fanOut.Join)
	}
	if n.member != nil {
		out = append(out, n.member.Join)
	}
	if n.loop != nil {
		out = append(out, n.loop.Exit)
		if withRotation {
			out = append(out, n.loop.Members[(n.loopIndex+1)%len(n.loop.Members)])
		}
	}
	return out
}

func (c *Compiled) walk(from string) map[string]bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := c.nodes[cur]
		if !ok {
			continue
		}
		for _, s := range c.successors(n, true) {
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	return seen
}

// RoundTracker counts completed debate rounds for one run.
type RoundTracker interface {
	CompleteRound(loop string, defaultMax int) (round int, exhausted bool)
}

// Transition is the routing decision for one completed stage.
type Transition struct {
	// Next is the stage to run after this one. For a fan-out it is the join.
	Next string
	// FanOut is set when the members of a group must run before Next.
	FanOut *FanOut
	// Done is set when the completed stage was terminal.
	Done bool
	// Loop, Round and Forced describe a completed debate round.
	Loop   string
	Round  int
	Forced bool
}

// Route resolves the successor of from given the label its handler returned.
func (c *Compiled) Route(from string, label stage.Label, rt RoundTracker) (Transition, error) {
	n, ok := c.nodes[from]
	if !ok {
		return Transition{}, fmt.Errorf("%w %q", ErrUnknownNode, from)
	}
	if label == "" {
		label = stage.LabelNext
	}
	if n.terminal {
		return Transition{Done: true}, nil
	}
	if !slices.Contains(n.handler.Labels(), label) {
		return Transition{}, fmt.Errorf("%w: stage %q returned undeclared label %q", ErrUnknownLabel, from, label)
	}

	switch {
	case n.loop != nil:
		return c.routeLoop(n, label, rt)
	case n.fanOut != nil:
		return Transition{Next: n.fanOut.Join, FanOut: n.fanOut}, nil
	case n.member != nil:
		return Transition{Next: n.member.Join}, nil
	case n.routes != nil:
		to, ok := n.routes[label]
		if !ok {
			return Transition{}, fmt.Errorf("%w: stage %q label %q", ErrUnknownLabel, from, label)
		}
		return Transition{Next: to}, nil
	default:
		return Transition{Next: n.next}, nil
	}
}

func (c *Compiled) routeLoop(n *Node, label stage.Label, rt RoundTracker) (Transition, error) {
	loop := n.loop
	if label == stage.LabelConclude {
		return Transition{Next: loop.Exit, Loop: loop.Name}, nil
	}
	if n.loopIndex < len(loop.Members)-1 {
		return Transition{Next: loop.Members[n.loopIndex+1]}, nil
	}
	round, exhausted := rt.CompleteRound(loop.Name, loop.MaxRounds)
	t := Transition{Loop: loop.Name, Round: round}
	if exhausted {
		t.Next, t.Forced = loop.Exit, true
	} else {
		t.Next = loop.Members[0]
	}
	return t, nil
}

// EstimateSteps returns the number of steps a run is expected to take, given
// the round limit chosen for each loop. Conditional branches are all counted,
// so the estimate is an upper bound for graphs that branch.
func (c *Compiled) EstimateSteps(rounds func(*DebateLoop) int) int {
	total := 0
	for _, name := range c.order {
		n := c.nodes[name]
		if n.loop == nil {
			total++
			continue
		}
		r := n.loop.MaxRounds
		if rounds != nil {
			r = rounds(n.loop)
		}
		total += max(r, 1)
	}
	return max(total, 1)
}
