// Package pipeline turns a declarative pipeline model into compiled graphs.
//
// Stage kinds are resolved through the registry, so every handler is bound
// before the first run starts. A model may mark one fan-out as selectable;
// runs then choose which of its members take part, and the Catalog compiles
// and caches one graph per distinct selection.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/vk/tradegrid/internal/config"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/graph"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/stage"
)

// ErrUnknownAnalyst is returned when a selection names a stage outside the
// selectable fan-out.
var ErrUnknownAnalyst = errors.New("unknown analyst")

// Compile builds the graph for model. selection restricts the selectable
// fan-out to the named members; an empty selection keeps them all.
func Compile(ctx context.Context, model *config.Model, reg *registry.Registry, selection []string) (*graph.Compiled, error) {
	logger := ctxlog.FromContext(ctx)
	excluded, err := excludedMembers(model, selection)
	if err != nil {
		return nil, err
	}

	b := graph.NewBuilder()
	for _, s := range model.Stages {
		if excluded[s.Name] {
			continue
		}
		h, err := reg.Build(registry.Spec{Kind: s.Kind, Name: s.Name, Options: s.Options})
		if err != nil {
			return nil, err
		}
		b.Register(s.Name, h)
		switch {
		case s.Next != "":
			b.Connect(s.Name, s.Next)
		case s.Routes != nil:
			table := make(map[stage.Label]string, len(s.Routes))
			for label, to := range s.Routes {
				table[stage.Label(label)] = to
			}
			b.ConnectConditional(s.Name, table)
		}
		if s.Terminal {
			b.MarkTerminal(s.Name)
		}
	}
	for _, f := range model.FanOuts {
		members := slices.DeleteFunc(slices.Clone(f.Members), func(m string) bool { return excluded[m] })
		b.DeclareFanOut(f.From, members, f.Join)
	}
	for _, d := range model.Debates {
		b.DeclareDebateLoop(d.Name, d.Members, d.MaxRounds, d.Exit)
	}

	entry := ""
	if model.Engine != nil {
		entry = model.Engine.Entry
	}
	if entry == "" && len(model.Stages) > 0 {
		entry = model.Stages[0].Name
	}
	b.SetEntry(entry)

	g, err := b.Compile()
	if err != nil {
		return nil, err
	}
	logger.Debug("Compiled pipeline.", "entry", entry, "stages", len(g.Stages()), "excluded", len(excluded))
	return g, nil
}

func excludedMembers(model *config.Model, selection []string) (map[string]bool, error) {
	if len(selection) == 0 {
		return nil, nil
	}
	f, ok := model.SelectableFanOut()
	if !ok {
		return nil, fmt.Errorf("%w: pipeline has no selectable fan-out", ErrUnknownAnalyst)
	}
	for _, name := range selection {
		if !slices.Contains(f.Members, name) {
			return nil, fmt.Errorf("%w %q, expected one of %s", ErrUnknownAnalyst, name, strings.Join(f.Members, ", "))
		}
	}
	excluded := make(map[string]bool)
	for _, m := range f.Members {
		if !slices.Contains(selection, m) {
			excluded[m] = true
		}
	}
	return excluded, nil
}

// Catalog compiles graphs for a model on demand and caches them by analyst
// selection. It is safe for concurrent use.
type Catalog struct {
	model *config.Model
	reg   *registry.Registry

	mu     sync.Mutex
	graphs map[string]*graph.Compiled
}

// NewCatalog validates model against reg and compiles the full graph, so a
// broken pipeline is reported before any run is accepted.
func NewCatalog(ctx context.Context, model *config.Model, reg *registry.Registry) (*Catalog, error) {
	if err := reg.Validate(ctx, model.Stages); err != nil {
		return nil, err
	}
	c := &Catalog{model: model, reg: reg, graphs: make(map[string]*graph.Compiled)}
	if _, err := c.Get(ctx, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// Model returns the pipeline model the catalog compiles.
func (c *Catalog) Model() *config.Model { return c.model }

// Selectable returns the members runs may choose from, in declaration order.
func (c *Catalog) Selectable() []string {
	f, ok := c.model.SelectableFanOut()
	if !ok {
		return nil
	}
	return slices.Clone(f.Members)
}

// Get returns the graph for selection, compiling it on first use.
func (c *Catalog) Get(ctx context.Context, selection []string) (*graph.Compiled, error) {
	key := c.key(selection)
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.graphs[key]; ok {
		return g, nil
	}
	g, err := Compile(ctx, c.model, c.reg, selection)
	if err != nil {
		return nil, err
	}
	c.graphs[key] = g
	return g, nil
}

// key normalises a selection so that order and duplicates do not matter.
// Selections naming every member share the key of the empty selection.
func (c *Catalog) key(selection []string) string {
	if len(selection) == 0 {
		return ""
	}
	sel := slices.Clone(selection)
	slices.Sort(sel)
	sel = slices.Compact(sel)
	if all := c.Selectable(); len(all) == len(sel) {
		allSorted := slices.Clone(all)
		slices.Sort(allSorted)
		if slices.Equal(allSorted, sel) {
			return ""
		}
	}
	return strings.Join(sel, ",")
}
