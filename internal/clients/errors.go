package clients

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// Error is a classified client failure.
type Error struct {
	Op        string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying later. A classified
// *Error decides for itself, so a transport timeout marked retryable stays
// retryable. Unclassified cancellation and deadlines never are; an open
// circuit always is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return false
}

// retryableStatus classifies an HTTP status code.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
