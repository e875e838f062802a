package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// State is the mutable record of one run. All methods are safe for
// concurrent use; readers such as progress queries may observe it while the
// engine is writing.
type State struct {
	mu        sync.RWMutex
	id        RunID
	params    Params
	status    Status
	artifacts map[string]Artifact
	debates   map[string][]Argument
	rounds    map[string]int
	limits    map[string]int
	decision  *Decision
	created   time.Time
	now       func() time.Time
}

// New creates a Pending state for the given run.
func New(id RunID, params Params) *State {
	params.Analysts = slices.Clone(params.Analysts)
	return &State{
		id:        id,
		params:    params,
		status:    StatusPending,
		artifacts: make(map[string]Artifact),
		debates:   make(map[string][]Argument),
		rounds:    make(map[string]int),
		limits:    make(map[string]int),
		created:   time.Now(),
		now:       time.Now,
	}
}

func (s *State) ID() RunID { return s.id }

func (s *State) Params() Params {
	p := s.params
	p.Analysts = slices.Clone(p.Analysts)
	return p
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus moves the run to next, rejecting any non-monotonic transition.
func (s *State) SetStatus(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, next)
	}
	s.status = next
	return nil
}

// SetRoundLimit fixes the maximum number of rounds for a debate loop in this
// run. Values below one are raised to one so every loop has a bounded exit.
func (s *State) SetRoundLimit(loop string, n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[loop] = n
}

// RoundLimit returns the configured limit for loop, or def if none was set.
func (s *State) RoundLimit(loop string, def int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limitLocked(loop, def)
}

func (s *State) limitLocked(loop string, def int) int {
	if n, ok := s.limits[loop]; ok {
		return n
	}
	if def < 1 {
		return 1
	}
	return def
}

// Round returns the number of completed rounds of loop.
func (s *State) Round(loop string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rounds[loop]
}

// CompleteRound records that the last member of loop's rotation finished.
// It returns the number of completed rounds and whether the loop has reached
// its limit. The counter never passes the limit.
func (s *State) CompleteRound(loop string, def int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.limitLocked(loop, def)
	if s.rounds[loop] < limit {
		s.rounds[loop]++
	}
	return s.rounds[loop], s.rounds[loop] >= limit
}

// Apply merges a stage's delta into the state. loop names the debate loop the
// stage belongs to and is required when the delta carries an argument. The
// delta is validated in full before anything is written.
func (s *State) Apply(stage, loop string, d Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Artifact != nil {
		if prev, ok := s.artifacts[d.Artifact.Name]; ok && prev.Stage != stage {
			return fmt.Errorf("%w: %q belongs to %q, not %q", ErrArtifactOwned, d.Artifact.Name, prev.Stage, stage)
		}
	}
	if d.Argument != nil && loop == "" {
		return fmt.Errorf("%w: stage %q", ErrNoDebateLoop, stage)
	}

	if d.Artifact != nil {
		a := *d.Artifact
		a.Stage = stage
		a.Attributes = maps.Clone(a.Attributes)
		if a.Produced.IsZero() {
			a.Produced = s.now()
		}
		s.artifacts[a.Name] = a
	}
	if d.Argument != nil {
		arg := *d.Argument
		if arg.Speaker == "" {
			arg.Speaker = stage
		}
		arg.Round = s.rounds[loop] + 1
		s.debates[loop] = append(s.debates[loop], arg)
	}
	if d.Decision != nil {
		dec := *d.Decision
		s.decision = &dec
	}
	return nil
}

// Decision returns a copy of the final decision, or nil if none was made.
func (s *State) Decision() *Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.decision == nil {
		return nil
	}
	d := *s.decision
	return &d
}

// View returns an immutable snapshot of the current state.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	debates := make(map[string][]Argument, len(s.debates))
	for k, v := range s.debates {
		debates[k] = slices.Clone(v)
	}
	artifacts := make(map[string]Artifact, len(s.artifacts))
	for k, v := range s.artifacts {
		v.Attributes = maps.Clone(v.Attributes)
		artifacts[k] = v
	}
	v := View{
		id:        s.id,
		params:    s.Params(),
		status:    s.status,
		artifacts: artifacts,
		debates:   debates,
		rounds:    maps.Clone(s.rounds),
	}
	if s.decision != nil {
		d := *s.decision
		v.decision = &d
	}
	return v
}

// Snapshot is the serialisable form of a state, retained with the terminal
// result for diagnostics.
type Snapshot struct {
	RunID     RunID                 `json:"run_id"`
	Params    Params                `json:"params"`
	Status    Status                `json:"status"`
	Artifacts map[string]Artifact   `json:"artifacts"`
	Debates   map[string][]Argument `json:"debates"`
	Rounds    map[string]int        `json:"rounds"`
	Decision  *Decision             `json:"decision,omitempty"`
}

// Snapshot captures the current state for persistence.
func (s *State) Snapshot() Snapshot {
	return s.View().Snapshot()
}

// MarshalJSON encodes the current snapshot.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
