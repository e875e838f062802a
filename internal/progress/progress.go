// Package progress defines the records a run emits while it executes and the
// terminal outcome persisted when it ends.
package progress

import (
	"time"

	"github.com/vk/tradegrid/internal/state"
)

// Cause classifies why a run ended unsuccessfully.
type Cause string

const (
	CauseNone              Cause = ""
	CauseStageFailure      Cause = "stage_failure"
	CauseStepLimitExceeded Cause = "step_limit_exceeded"
	CauseTimeout           Cause = "timeout"
	CauseCancelled         Cause = "cancelled"
	CauseResourceExhausted Cause = "resource_exhausted"
)

// Event is one entry in a run's ordered progress stream.
type Event struct {
	RunID   state.RunID  `json:"run_id"`
	Seq     int          `json:"seq"`
	Stage   string       `json:"stage,omitempty"`
	Percent int          `json:"percent"`
	Message string       `json:"message,omitempty"`
	Status  state.Status `json:"status"`
	Cause   Cause        `json:"cause,omitempty"`
	Time    time.Time    `json:"time"`
}

// Terminal reports whether the event closes its run's stream.
func (e Event) Terminal() bool { return e.Status.IsTerminal() }

// Result is the terminal outcome of a run.
type Result struct {
	RunID       state.RunID     `json:"run_id"`
	Status      state.Status    `json:"status"`
	Decision    *state.Decision `json:"decision,omitempty"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Cause       Cause           `json:"cause,omitempty"`
	Message     string          `json:"message,omitempty"`
	Retryable   bool            `json:"retryable"`
	Steps       int             `json:"steps"`
	Snapshot    state.Snapshot  `json:"snapshot"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Succeeded reports whether the run completed with a decision.
func (r Result) Succeeded() bool {
	return r.Status == state.StatusCompleted && r.Decision != nil
}
