package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/vk/tradegrid/internal/stage"
)

// FanOut is a group of stages that run concurrently after From and are
// joined at Join.
type FanOut struct {
	From    string
	Members []string
	Join    string
}

// DebateLoop is a bounded rotation of stages.
type DebateLoop struct {
	Name      string
	Members   []string
	MaxRounds int
	Exit      string
}

type nodeDef struct {
	name     string
	handler  stage.Handler
	next     string
	routes   map[stage.Label]string
	terminal bool
}

// Builder accumulates a pipeline definition. It is not safe for concurrent
// use.
type Builder struct {
	nodes    map[string]*nodeDef
	order    []string
	fanOuts  []*FanOut
	loops    []*DebateLoop
	entry    string
	problems []string
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{nodes: make(map[string]*nodeDef)}
}

func (b *Builder) problem(format string, args ...any) {
	b.problems = append(b.problems, fmt.Sprintf(format, args...))
}

// Register adds a stage bound to handler.
func (b *Builder) Register(name string, h stage.Handler) {
	switch {
	case name == "":
		b.problem("stage name must not be empty")
		return
	case h == nil:
		b.problem("stage %q has no handler", name)
		return
	}
	if _, exists := b.nodes[name]; exists {
		b.problem("stage %q registered more than once", name)
		return
	}
	b.nodes[name] = &nodeDef{name: name, handler: h}
	b.order = append(b.order, name)
}

// Connect adds an unconditional edge.
func (b *Builder) Connect(from, to string) {
	n, ok := b.nodes[from]
	if !ok {
		b.problem("edge from unknown stage %q", from)
		return
	}
	if n.next != "" || n.routes != nil {
		b.problem("stage %q already has an outgoing edge", from)
		return
	}
	n.next = to
}

// ConnectConditional routes from to a successor chosen by label.
func (b *Builder) ConnectConditional(from string, table map[stage.Label]string) {
	n, ok := b.nodes[from]
	if !ok {
		b.problem("conditional edge from unknown stage %q", from)
		return
	}
	if n.next != "" || n.routes != nil {
		b.problem("stage %q already has an outgoing edge", from)
		return
	}
	n.routes = maps.Clone(table)
	if n.routes == nil {
		n.routes = map[stage.Label]string{}
	}
}

// DeclareFanOut runs members concurrently after from, then join.
func (b *Builder) DeclareFanOut(from string, members []string, join string) {
	b.fanOuts = append(b.fanOuts, &FanOut{From: from, Members: slices.Clone(members), Join: join})
}

// DeclareDebateLoop declares a rotation bounded by maxRounds full rotations.
// Reaching the limit, or any member returning LabelConclude, routes to exit.
func (b *Builder) DeclareDebateLoop(name string, members []string, maxRounds int, exit string) {
	b.loops = append(b.loops, &DebateLoop{Name: name, Members: slices.Clone(members), MaxRounds: maxRounds, Exit: exit})
}

// SetEntry chooses the first stage of every run.
func (b *Builder) SetEntry(name string) {
	b.entry = name
}

// MarkTerminal flags a stage whose completion ends the run successfully.
func (b *Builder) MarkTerminal(name string) {
	n, ok := b.nodes[name]
	if !ok {
		b.problem("unknown terminal stage %q", name)
		return
	}
	n.terminal = true
}
