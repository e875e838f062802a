package stage

import (
	"errors"
	"fmt"

	"github.com/vk/tradegrid/internal/clients"
)

// Failure is a handler error attributed to the stage that raised it.
type Failure struct {
	Stage     string
	Cause     error
	Retryable bool
}

// Fail wraps err as a Failure of stage. An existing Failure is returned
// unchanged so the innermost stage name survives.
func Fail(stage string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Stage: stage, Cause: err, Retryable: clients.IsRetryable(err)}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("stage %q failed: %v", f.Stage, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }
