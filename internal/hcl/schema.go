package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes all possible top-level blocks from any file.
type fileRoot struct {
	Engine  *engineBlock   `hcl:"engine,block"`
	Stages  []*stageBlock  `hcl:"stage,block"`
	FanOuts []*fanOutBlock `hcl:"fan_out,block"`
	Debates []*debateBlock `hcl:"debate,block"`
	Depths  []*depthBlock  `hcl:"research_depth,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type engineBlock struct {
	Entry       string  `hcl:"entry"`
	StepCeiling *int    `hcl:"step_ceiling,optional"`
	RunTimeout  *string `hcl:"run_timeout,optional"`
}

// optionsBlock holds free-form stage settings handed to the stage factory.
type optionsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type stageBlock struct {
	Kind     string            `hcl:"kind,label"`
	Name     string            `hcl:"name,label"`
	Next     *string           `hcl:"next,optional"`
	Routes   map[string]string `hcl:"routes,optional"`
	Terminal *bool             `hcl:"terminal,optional"`
	Options  *optionsBlock     `hcl:"options,block"`
}

type fanOutBlock struct {
	Name       string   `hcl:"name,label"`
	From       string   `hcl:"from"`
	Members    []string `hcl:"members"`
	Join       string   `hcl:"join"`
	Selectable *bool    `hcl:"selectable,optional"`
}

type debateBlock struct {
	Name      string   `hcl:"name,label"`
	Members   []string `hcl:"members"`
	MaxRounds int      `hcl:"max_rounds"`
	Exit      string   `hcl:"exit"`
}

type depthBlock struct {
	Level  string         `hcl:"level,label"`
	Rounds map[string]int `hcl:"rounds"`
}
