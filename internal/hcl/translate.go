// This file translates the HCL schema structs into the format-agnostic
// pipeline model.

package hcl

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/vk/tradegrid/internal/config"
	"github.com/vk/tradegrid/internal/state"
	"github.com/zclconf/go-cty/cty"
)

func (l *Loader) translate(root *fileRoot) (*config.Model, error) {
	m := &config.Model{}
	if root.Engine != nil {
		e, err := translateEngine(root.Engine)
		if err != nil {
			return nil, err
		}
		m.Engine = e
	}
	for _, s := range root.Stages {
		st, err := translateStage(s)
		if err != nil {
			return nil, err
		}
		m.Stages = append(m.Stages, st)
	}
	for _, f := range root.FanOuts {
		m.FanOuts = append(m.FanOuts, &config.FanOut{
			Name:       f.Name,
			From:       f.From,
			Members:    f.Members,
			Join:       f.Join,
			Selectable: f.Selectable != nil && *f.Selectable,
		})
	}
	for _, d := range root.Debates {
		m.Debates = append(m.Debates, &config.Debate{
			Name:      d.Name,
			Members:   d.Members,
			MaxRounds: d.MaxRounds,
			Exit:      d.Exit,
		})
	}
	for _, d := range root.Depths {
		level, err := strconv.Atoi(d.Level)
		if err != nil || level < 1 || level > state.MaxResearchDepth {
			return nil, fmt.Errorf("research_depth label %q must be an integer from 1 to %d", d.Level, state.MaxResearchDepth)
		}
		m.Depths = append(m.Depths, &config.Depth{Level: level, Rounds: maps.Clone(d.Rounds)})
	}
	return m, nil
}

func translateEngine(b *engineBlock) (*config.Engine, error) {
	e := &config.Engine{Entry: b.Entry}
	if b.StepCeiling != nil {
		if *b.StepCeiling < 1 {
			return nil, fmt.Errorf("engine step_ceiling must be at least 1, got %d", *b.StepCeiling)
		}
		e.StepCeiling = *b.StepCeiling
	}
	if b.RunTimeout != nil {
		d, err := time.ParseDuration(*b.RunTimeout)
		if err != nil {
			return nil, fmt.Errorf("engine run_timeout: %w", err)
		}
		e.RunTimeout = d
	}
	return e, nil
}

func translateStage(b *stageBlock) (*config.Stage, error) {
	s := &config.Stage{
		Kind:     b.Kind,
		Name:     b.Name,
		Routes:   maps.Clone(b.Routes),
		Terminal: b.Terminal != nil && *b.Terminal,
	}
	if b.Next != nil {
		s.Next = *b.Next
	}
	if b.Options == nil || b.Options.Body == nil {
		return s, nil
	}

	attrs, diags := b.Options.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("options of stage %q: %w", b.Name, diags)
	}
	s.Options = make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("option %q of stage %q: %w", name, b.Name, diags)
		}
		s.Options[name] = val
	}
	return s, nil
}
