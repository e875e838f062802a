package state

import (
	"maps"
	"slices"
	"sort"
)

// View is a read-only snapshot handed to stage handlers. It shares no memory
// with the State it was taken from.
type View struct {
	id        RunID
	params    Params
	status    Status
	artifacts map[string]Artifact
	debates   map[string][]Argument
	rounds    map[string]int
	decision  *Decision
}

func (v View) ID() RunID { return v.id }

func (v View) Params() Params { return v.params }

func (v View) Status() Status { return v.status }

// Round returns the number of completed rounds of loop at snapshot time.
func (v View) Round(loop string) int { return v.rounds[loop] }

// Artifact looks up an artifact by name.
func (v View) Artifact(name string) (Artifact, bool) {
	a, ok := v.artifacts[name]
	return a, ok
}

// ArtifactNames lists the names of all artifacts in sorted order.
func (v View) ArtifactNames() []string {
	names := make([]string, 0, len(v.artifacts))
	for n := range v.artifacts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Debate returns the ordered history of a debate loop.
func (v View) Debate(loop string) []Argument {
	return slices.Clone(v.debates[loop])
}

// Decision returns the final decision or nil.
func (v View) Decision() *Decision {
	if v.decision == nil {
		return nil
	}
	d := *v.decision
	return &d
}

// Snapshot converts the view into its serialisable form.
func (v View) Snapshot() Snapshot {
	debates := make(map[string][]Argument, len(v.debates))
	for k, args := range v.debates {
		debates[k] = slices.Clone(args)
	}
	return Snapshot{
		RunID:     v.id,
		Params:    v.params,
		Status:    v.status,
		Artifacts: maps.Clone(v.artifacts),
		Debates:   debates,
		Rounds:    maps.Clone(v.rounds),
		Decision:  v.Decision(),
	}
}
