package state

import "errors"

var (
	ErrInvalidParams     = errors.New("invalid run parameters")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrArtifactOwned     = errors.New("artifact is owned by another stage")
	ErrNoDebateLoop      = errors.New("argument produced outside a debate loop")
)
