package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vk/tradegrid/internal/stage"
)

// ValidationError aggregates every problem found while compiling a graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation failed with %d problem(s): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

var loopLabels = []stage.Label{stage.LabelNext, stage.LabelContinue, stage.LabelConclude}

// Compile validates the definition and returns its immutable form. The
// builder is not modified, so Compile may be called repeatedly.
func (b *Builder) Compile() (*Compiled, error) {
	v := &validator{
		problems: slices.Clone(b.problems),
		c: &Compiled{
			nodes: make(map[string]*Node, len(b.nodes)),
			order: slices.Clone(b.order),
			entry: b.entry,
			loops: make(map[string]*DebateLoop, len(b.loops)),
		},
	}
	for _, name := range b.order {
		d := b.nodes[name]
		v.c.nodes[name] = &Node{
			name:      d.name,
			handler:   d.handler,
			next:      d.next,
			routes:    maps.Clone(d.routes),
			terminal:  d.terminal,
			loopIndex: -1,
		}
	}

	v.checkEntry()
	v.checkEdges()
	v.bindFanOuts(b.fanOuts)
	v.bindLoops(b.loops)
	v.checkOutgoing()
	v.checkLoopEntries()
	if v.c.known(v.c.entry) {
		v.checkReachable()
		v.checkCycles()
		v.checkTerminalReachable()
	}

	if len(v.problems) > 0 {
		return nil, &ValidationError{Problems: v.problems}
	}
	return v.c, nil
}

type validator struct {
	c        *Compiled
	problems []string
}

func (v *validator) problem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) checkEntry() {
	switch {
	case v.c.entry == "":
		v.problem("no entry stage set")
	case !v.c.known(v.c.entry):
		v.problem("entry stage %q is unknown", v.c.entry)
	}
}

func (v *validator) checkEdges() {
	for _, name := range v.c.order {
		n := v.c.nodes[name]
		if n.next != "" && !v.c.known(n.next) {
			v.problem("stage %q connects to unknown stage %q", name, n.next)
		}
		if n.routes != nil {
			declared := n.handler.Labels()
			for _, l := range declared {
				if _, ok := n.routes[l]; !ok {
					v.problem("conditional table of stage %q has no route for label %q", name, l)
				}
			}
			for _, l := range sortedLabels(n.routes) {
				if !slices.Contains(declared, l) {
					v.problem("conditional table of stage %q routes undeclared label %q", name, l)
				}
				if to := n.routes[l]; !v.c.known(to) {
					v.problem("stage %q routes label %q to unknown stage %q", name, l, to)
				}
			}
		}
		if n.terminal && (n.next != "" || n.routes != nil) {
			v.problem("terminal stage %q must not have outgoing edges", name)
		}
	}
}

func (v *validator) bindFanOuts(groups []*FanOut) {
	for _, g := range groups {
		f := &FanOut{From: g.From, Members: slices.Clone(g.Members), Join: g.Join}
		if src, ok := v.c.nodes[f.From]; !ok {
			v.problem("fan-out from unknown stage %q", f.From)
		} else {
			switch {
			case src.fanOut != nil:
				v.problem("stage %q declares more than one fan-out", f.From)
			case src.next != "" || src.routes != nil:
				v.problem("stage %q has both a fan-out and an outgoing edge", f.From)
			case src.terminal:
				v.problem("terminal stage %q must not fan out", f.From)
			default:
				src.fanOut = f
			}
		}
		if len(f.Members) == 0 {
			v.problem("fan-out after stage %q has no members", f.From)
		}
		if !v.c.known(f.Join) {
			v.problem("fan-out after stage %q joins at unknown stage %q", f.From, f.Join)
		}
		for _, m := range f.Members {
			n, ok := v.c.nodes[m]
			if !ok {
				v.problem("fan-out after stage %q names unknown member %q", f.From, m)
				continue
			}
			if m == f.Join || m == f.From {
				v.problem("stage %q cannot be both a fan-out member and its source or join", m)
			}
			if n.member != nil {
				v.problem("stage %q belongs to more than one fan-out", m)
				continue
			}
			n.member = f
			if n.next != "" || n.routes != nil || n.terminal {
				v.problem("fan-out member %q must not declare its own edges", m)
			}
			if !onlyLabels(n.handler.Labels(), stage.LabelNext) {
				v.problem("fan-out member %q declares branching labels", m)
			}
		}
	}
}

func (v *validator) bindLoops(loops []*DebateLoop) {
	for _, l := range loops {
		loop := &DebateLoop{Name: l.Name, Members: slices.Clone(l.Members), MaxRounds: l.MaxRounds, Exit: l.Exit}
		if loop.Name == "" {
			v.problem("debate loop must have a name")
		} else if _, dup := v.c.loops[loop.Name]; dup {
			v.problem("debate loop %q declared more than once", loop.Name)
			continue
		}
		if loop.MaxRounds < 1 {
			v.problem("debate loop %q must allow at least one round, got %d", loop.Name, loop.MaxRounds)
		}
		if len(loop.Members) < 2 {
			v.problem("debate loop %q needs at least two members, got %d", loop.Name, len(loop.Members))
		}
		if !v.c.known(loop.Exit) {
			v.problem("debate loop %q exits to unknown stage %q", loop.Name, loop.Exit)
		} else if slices.Contains(loop.Members, loop.Exit) {
			v.problem("debate loop %q cannot exit to its own member %q", loop.Name, loop.Exit)
		}
		for i, m := range loop.Members {
			n, ok := v.c.nodes[m]
			if !ok {
				v.problem("debate loop %q names unknown member %q", loop.Name, m)
				continue
			}
			if n.loop != nil {
				v.problem("stage %q belongs to more than one debate loop", m)
				continue
			}
			n.loop, n.loopIndex = loop, i
			if n.next != "" || n.routes != nil || n.terminal || n.fanOut != nil || n.member != nil {
				v.problem("debate loop member %q must not declare its own edges", m)
			}
			if !onlyLabels(n.handler.Labels(), loopLabels...) {
				v.problem("debate loop member %q declares labels other than next, continue and conclude", m)
			}
		}
		if loop.Name != "" {
			v.c.loops[loop.Name] = loop
		}
	}
}

func (v *validator) checkOutgoing() {
	for _, name := range v.c.order {
		n := v.c.nodes[name]
		if n.terminal || n.loop != nil || n.member != nil || n.fanOut != nil {
			continue
		}
		if n.next == "" && n.routes == nil {
			v.problem("stage %q is not terminal and has no outgoing edge", name)
		}
	}
}

func (v *validator) checkLoopEntries() {
	if n, ok := v.c.nodes[v.c.entry]; ok && n.loop != nil && n.loopIndex > 0 {
		v.problem("entry stage %q is not the first member of debate loop %q", n.name, n.loop.Name)
	}
	for _, name := range v.c.order {
		n := v.c.nodes[name]
		for _, s := range v.c.successors(n, false) {
			sn, ok := v.c.nodes[s]
			if !ok || sn.loop == nil || sn.loopIndex == 0 || sn.loop == n.loop {
				continue
			}
			v.problem("stage %q enters debate loop %q at %q instead of %q", name, sn.loop.Name, s, sn.loop.Members[0])
		}
	}
}

func (v *validator) checkReachable() {
	seen := v.c.walk(v.c.entry)
	for _, name := range v.c.order {
		if !seen[name] {
			v.problem("stage %q is unreachable from entry %q", name, v.c.entry)
		}
	}
}

// checkCycles runs a three-colour depth-first search over every edge except
// the rotation edges inside declared debate loops.
func (v *validator) checkCycles() {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	reported := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		if permanent[name] {
			return
		}
		if temporary[name] {
			if !reported[name] {
				reported[name] = true
				v.problem("cycle outside a debate loop involves stage %q", name)
			}
			return
		}
		temporary[name] = true
		for _, s := range v.c.successors(v.c.nodes[name], false) {
			if v.c.known(s) {
				visit(s)
			}
		}
		delete(temporary, name)
		permanent[name] = true
	}

	for _, name := range v.c.order {
		visit(name)
	}
}

func (v *validator) checkTerminalReachable() {
	reverse := make(map[string][]string)
	var queue []string
	for _, name := range v.c.order {
		n := v.c.nodes[name]
		if n.terminal {
			queue = append(queue, name)
		}
		for _, s := range v.c.successors(n, true) {
			reverse[s] = append(reverse[s], name)
		}
	}
	if len(queue) == 0 {
		v.problem("no terminal stage declared")
		return
	}
	canFinish := make(map[string]bool)
	for _, q := range queue {
		canFinish[q] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range reverse[cur] {
			if !canFinish[p] {
				canFinish[p] = true
				queue = append(queue, p)
			}
		}
	}
	reachable := v.c.walk(v.c.entry)
	for _, name := range v.c.order {
		if reachable[name] && !canFinish[name] {
			v.problem("stage %q can never reach a terminal stage", name)
		}
	}
}

func onlyLabels(have []stage.Label, allowed ...stage.Label) bool {
	for _, l := range have {
		if !slices.Contains(allowed, l) {
			return false
		}
	}
	return true
}

func sortedLabels(m map[stage.Label]string) []stage.Label {
	out := slices.Collect(maps.Keys(m))
	slices.Sort(out)
	return out
}
