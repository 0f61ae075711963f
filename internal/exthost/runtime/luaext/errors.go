package luaext

import "errors"

// Errors for Lua extension operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a call exceeds its time budget.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNotFunction is returned when a global expected to be a function is not.
	ErrNotFunction = errors.New("lua value is not a function")
)
