package config

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Model is the unified, format-agnostic representation of a pipeline.
type Model struct {
	Engine  *Engine
	Stages  []*Stage
	FanOuts []*FanOut
	Debates []*Debate
	Depths  []*Depth
}

// Engine holds pipeline-wide settings. Zero values mean "not set".
type Engine struct {
	Entry       string
	StepCeiling int
	RunTimeout  time.Duration
}

// Stage is one node of the pipeline, bound to a registered stage kind.
type Stage struct {
	Kind     string
	Name     string
	Next     string
	Routes   map[string]string
	Terminal bool
	Options  map[string]cty.Value
}

// FanOut runs Members concurrently after From and joins at Join. When
// Selectable is set, a run may choose a subset of the members.
type FanOut struct {
	Name       string
	From       string
	Members    []string
	Join       string
	Selectable bool
}

// Debate is a bounded rotation of stages.
type Debate struct {
	Name      string
	Members   []string
	MaxRounds int
	Exit      string
}

// Depth maps a research depth level to per-debate round limits.
type Depth struct {
	Level  int
	Rounds map[string]int
}

// Stage returns the stage called name.
func (m *Model) Stage(name string) (*Stage, bool) {
	for _, s := range m.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SelectableFanOut returns the fan-out runs may choose members from.
func (m *Model) SelectableFanOut() (*FanOut, bool) {
	for _, f := range m.FanOuts {
		if f.Selectable {
			return f, true
		}
	}
	return nil, false
}

// RoundsFor returns the round limits for a research depth. The preset with
// the highest level not above depth wins; depths below every preset use the
// lowest one. It returns nil when no presets are declared or depth is zero.
func (m *Model) RoundsFor(depth int) map[string]int {
	if depth <= 0 || len(m.Depths) == 0 {
		return nil
	}
	presets := slices.Clone(m.Depths)
	sort.Slice(presets, func(i, j int) bool { return presets[i].Level < presets[j].Level })
	chosen := presets[0]
	for _, p := range presets {
		if p.Level <= depth {
			chosen = p
		}
	}
	return maps.Clone(chosen.Rounds)
}

// Merge appends other's declarations to m. Declaring the engine block twice
// is an error.
func (m *Model) Merge(other *Model) error {
	if other.Engine != nil {
		if m.Engine != nil {
			return fmt.Errorf("engine block declared more than once")
		}
		m.Engine = other.Engine
	}
	m.Stages = append(m.Stages, other.Stages...)
	m.FanOuts = append(m.FanOuts, other.FanOuts...)
	m.Debates = append(m.Debates, other.Debates...)
	m.Depths = append(m.Depths, other.Depths...)
	return nil
}
