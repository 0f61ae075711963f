package platform

import "errors"

var (
	// ErrNotStarted is returned by operations that need a started platform.
	ErrNotStarted = errors.New("platform not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("platform already started")

	// ErrDependencyCycle is returned when extension dependencies form a cycle.
	ErrDependencyCycle = errors.New("extension dependency cycle")
)
