package testutil

import (
	"sync"
	"time"

	"github.com/vk/tradegrid/internal/state"
)

// ExecutionRecord holds the start and end times of one stage invocation.
type ExecutionRecord struct {
	Run   state.RunID
	Stage string
	Start time.Time
	End   time.Time
}

// Timeline records stage entries and exits across runs.
type Timeline struct {
	mu      sync.Mutex
	records []ExecutionRecord
}

// Enter records that stage started for run. Its signature matches
// engine.Config.BeforeStage.
func (tl *Timeline) Enter(id state.RunID, stage string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.records = append(tl.records, ExecutionRecord{Run: id, Stage: stage, Start: time.Now()})
}

// Exit stamps the end time of the latest open record of stage for run.
func (tl *Timeline) Exit(id state.RunID, stage string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for i := len(tl.records) - 1; i >= 0; i-- {
		r := &tl.records[i]
		if r.Run == id && r.Stage == stage && r.End.IsZero() {
			r.End = time.Now()
			return
		}
	}
}

// Records returns a copy of everything recorded so far, in entry order.
func (tl *Timeline) Records() []ExecutionRecord {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]ExecutionRecord, len(tl.records))
	copy(out, tl.records)
	return out
}

// Entered returns the first entry of stage for run.
func (tl *Timeline) Entered(id state.RunID, stage string) (ExecutionRecord, bool) {
	for _, r := range tl.Records() {
		if r.Run == id && r.Stage == stage {
			return r, true
		}
	}
	return ExecutionRecord{}, false
}

// Runs returns the distinct runs in order of their first entry.
func (tl *Timeline) Runs() []state.RunID {
	var out []state.RunID
	seen := make(map[state.RunID]bool)
	for _, r := range tl.Records() {
		if !seen[r.Run] {
			seen[r.Run] = true
			out = append(out, r.Run)
		}
	}
	return out
}
